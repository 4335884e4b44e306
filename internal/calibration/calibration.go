// Package calibration turns genuine and impostor similarity samples into
// verification thresholds.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kozaktomas/faceclock/internal/config"
)

// ErrNotEnoughPairs is returned when either class has no samples.
var ErrNotEnoughPairs = errors.New("need at least one genuine and one impostor pair")

const maxRecommended = 0.99

// Stats summarizes one class of scores.
type Stats struct {
	Count  int     `yaml:"count" json:"count"`
	Mean   float64 `yaml:"mean" json:"mean"`
	Std    float64 `yaml:"std" json:"std"`
	Min    float64 `yaml:"min" json:"min"`
	Max    float64 `yaml:"max" json:"max"`
	Median float64 `yaml:"median" json:"median"`
}

// EER is the operating point where false accepts and false rejects balance.
type EER struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	FAR       float64 `yaml:"far" json:"far"`
	FRR       float64 `yaml:"frr" json:"frr"`
	Rate      float64 `yaml:"rate" json:"rate"`
}

// MenuEntry is the threshold that achieves a target error rate.
type MenuEntry struct {
	Target    float64 `yaml:"target" json:"target"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	FAR       float64 `yaml:"far" json:"far"`
	FRR       float64 `yaml:"frr" json:"frr"`
}

// Recommended are the thresholds the verifier should use.
type Recommended struct {
	Daily      float64 `yaml:"daily" json:"daily"`
	Enrollment float64 `yaml:"enrollment" json:"enrollment"`
	Balanced   float64 `yaml:"balanced" json:"balanced"`
}

// Profile is the outcome of a calibration run.
type Profile struct {
	GeneratedAt   time.Time   `yaml:"generated_at" json:"generated_at"`
	Identities    int         `yaml:"identities" json:"identities"`
	Skipped       int         `yaml:"skipped" json:"skipped"`
	Genuine       Stats       `yaml:"genuine" json:"genuine"`
	Impostor      Stats       `yaml:"impostor" json:"impostor"`
	Separation    float64     `yaml:"separation" json:"separation"`
	EER           EER         `yaml:"eer" json:"eer"`
	FARMenu       []MenuEntry `yaml:"far_menu" json:"far_menu"`
	FRRMenu       []MenuEntry `yaml:"frr_menu" json:"frr_menu"`
	Alarm         bool        `yaml:"alarm" json:"alarm"`
	AlarmFallback float64     `yaml:"alarm_fallback,omitempty" json:"alarm_fallback,omitempty"`
	Warnings      []string    `yaml:"warnings,omitempty" json:"warnings,omitempty"`
	Recommended   Recommended `yaml:"recommended" json:"recommended"`
}

// Calibrate generates pairs from identities and computes the profile.
func Calibrate(ctx context.Context, identities []Identity, cfg config.CalibrationConfig, progress func()) (*Profile, error) {
	ps, err := GeneratePairs(ctx, identities, cfg.Workers, progress)
	if err != nil {
		return nil, err
	}
	genuine, impostor := ps.Scores()
	p, err := Compute(genuine, impostor, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w (%d identities usable, %d skipped)", err, ps.Identities, ps.Skipped)
	}
	p.Identities = ps.Identities
	p.Skipped = ps.Skipped
	return p, nil
}

// Compute derives statistics, the EER point, the FAR/FRR menus and the
// recommended thresholds from raw scores.
func Compute(genuine, impostor []float64, cfg config.CalibrationConfig) (*Profile, error) {
	if len(genuine) == 0 || len(impostor) == 0 {
		return nil, ErrNotEnoughPairs
	}
	gs := sortedCopy(genuine)
	is := sortedCopy(impostor)

	p := &Profile{
		GeneratedAt: time.Now().UTC(),
		Genuine:     Summarize(gs),
		Impostor:    Summarize(is),
	}
	p.Separation = p.Genuine.Mean - p.Impostor.Mean
	p.EER = FindEER(gs, is, cfg.EERStep)

	for _, t := range cfg.FARTargets {
		th := thresholdForFAR(is, t)
		far, frr := Rates(gs, is, th)
		p.FARMenu = append(p.FARMenu, MenuEntry{Target: t, Threshold: th, FAR: far, FRR: frr})
	}
	for _, t := range cfg.FRRTargets {
		th := thresholdForFRR(gs, t)
		far, frr := Rates(gs, is, th)
		p.FRRMenu = append(p.FRRMenu, MenuEntry{Target: t, Threshold: th, FAR: far, FRR: frr})
	}

	if p.Impostor.Mean > p.Genuine.Mean {
		p.Alarm = true
		p.AlarmFallback = (p.Genuine.Mean + p.Impostor.Mean) / 2
		p.Warnings = append(p.Warnings, fmt.Sprintf(
			"impostor mean %.3f exceeds genuine mean %.3f: embeddings are unreliable, using midpoint %.3f",
			p.Impostor.Mean, p.Genuine.Mean, p.AlarmFallback))
		p.Recommended.Daily = p.AlarmFallback
	} else {
		if p.Separation < cfg.MinSeparation {
			p.Warnings = append(p.Warnings, fmt.Sprintf(
				"weak separation %.3f between genuine and impostor means (want at least %.2f)",
				p.Separation, cfg.MinSeparation))
		}
		p.Recommended.Daily = thresholdForFAR(is, 0.01)
	}
	p.Recommended.Enrollment = math.Min(p.Recommended.Daily+cfg.EnrollmentMargin, maxRecommended)
	p.Recommended.Balanced = thresholdForFRR(gs, 0.05)
	return p, nil
}

// Summarize computes statistics over sorted scores. The median is the
// upper middle element.
func Summarize(sorted []float64) Stats {
	n := len(sorted)
	if n == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)
	var sq float64
	for _, v := range sorted {
		sq += (v - mean) * (v - mean)
	}
	return Stats{
		Count:  n,
		Mean:   mean,
		Std:    math.Sqrt(sq / float64(n)),
		Min:    sorted[0],
		Max:    sorted[n-1],
		Median: sorted[n/2],
	}
}

// Rates returns the share of impostors accepted and genuines rejected at threshold.
func Rates(genuine, impostor []float64, threshold float64) (far, frr float64) {
	var accepted, rejected int
	for _, s := range impostor {
		if s >= threshold {
			accepted++
		}
	}
	for _, s := range genuine {
		if s < threshold {
			rejected++
		}
	}
	if len(impostor) > 0 {
		far = float64(accepted) / float64(len(impostor))
	}
	if len(genuine) > 0 {
		frr = float64(rejected) / float64(len(genuine))
	}
	return far, frr
}

// FindEER scans thresholds from the lowest to the highest score in steps and
// returns the midpoint of the first run of thresholds minimizing |FAR-FRR|.
func FindEER(genuine, impostor []float64, step float64) EER {
	if step <= 0 {
		step = 0.01
	}
	lo := math.Min(minOf(genuine), minOf(impostor))
	hi := math.Max(maxOf(genuine), maxOf(impostor))

	best := math.Inf(1)
	start, end := lo, lo
	inRun := false
	for i := 0; ; i++ {
		t := roundThreshold(lo + float64(i)*step)
		if t > hi+1e-9 {
			break
		}
		far, frr := Rates(genuine, impostor, t)
		diff := math.Abs(far - frr)
		switch {
		case diff < best-1e-12:
			best, start, end, inRun = diff, t, t, true
		case inRun && math.Abs(diff-best) <= 1e-12:
			end = t
		default:
			inRun = false
		}
	}

	t := (start + end) / 2
	far, frr := Rates(genuine, impostor, t)
	return EER{Threshold: t, FAR: far, FRR: frr, Rate: (far + frr) / 2}
}

// thresholdForFAR returns the impostor score above which roughly target of
// impostors fall.
func thresholdForFAR(sortedImpostor []float64, target float64) float64 {
	n := len(sortedImpostor)
	idx := clampIndex(int(math.Floor(float64(n)*(1-target))), n)
	return sortedImpostor[idx]
}

// thresholdForFRR returns the genuine score below which roughly target of
// genuines fall.
func thresholdForFRR(sortedGenuine []float64, target float64) float64 {
	n := len(sortedGenuine)
	idx := clampIndex(int(math.Floor(float64(n)*target)), n)
	return sortedGenuine[idx]
}

func clampIndex(i, n int) int {
	return min(max(i, 0), n-1)
}

func roundThreshold(t float64) float64 {
	return math.Round(t*1e6) / 1e6
}

func sortedCopy(v []float64) []float64 {
	out := append([]float64(nil), v...)
	sort.Float64s(out)
	return out
}

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		m = math.Min(m, x)
	}
	return m
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}
