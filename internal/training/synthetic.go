// Package training builds reference model artifacts from synthetic data.
// It is used by the train command and by tests that need real models.
package training

import (
	"math"
	"math/rand"

	"safeguard/internal/model"
)

// LabeledSample is a synthetic telemetry sample and whether it was drawn
// from the anomalous population.
type LabeledSample struct {
	Sample  model.TelemetrySample
	Anomaly bool
}

// AnomalySamples draws n samples, 90% normal and 10% anomalous.
func AnomalySamples(n int, seed int64) []LabeledSample {
	rng := rand.New(rand.NewSource(seed))
	nNormal := int(float64(n) * 0.9)
	out := make([]LabeledSample, 0, n)
	for i := 0; i < nNormal; i++ {
		out = append(out, LabeledSample{Sample: normalSample(rng)})
	}
	for i := nNormal; i < n; i++ {
		out = append(out, LabeledSample{Sample: anomalousSample(rng), Anomaly: true})
	}
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func normalSample(rng *rand.Rand) model.TelemetrySample {
	hour := clamp(rng.NormFloat64()*4+12, 0, 23)
	var speed float64
	if hour >= 6 && hour <= 22 {
		speed = rng.NormFloat64()*1 + 3
	} else {
		speed = rng.NormFloat64()*0.5 + 1
	}
	days := float64(rng.Intn(7) + 1)
	return model.TelemetrySample{
		Hour:                hour,
		SpeedKmh:            math.Max(0, speed),
		DistanceFromEntryKm: rng.ExpFloat64() * days * 2,
		BatteryLevel:        math.Max(10, 100-rng.ExpFloat64()*20),
		GPSAccuracyM:        math.Max(1, rng.NormFloat64()*3+10),
		RiskZoneDistanceKm:  rng.ExpFloat64() * 5,
		DaysSinceEntry:      days,
	}
}

func anomalousSample(rng *rand.Rand) model.TelemetrySample {
	hours := []float64{2, 3, 23, 24}
	hour := hours[rng.Intn(len(hours))]

	var speed float64
	switch rng.Intn(3) {
	case 0:
		speed = rng.NormFloat64() * 0.1
	case 1:
		speed = rng.NormFloat64()*3 + 15
	default:
		speed = rng.NormFloat64()*10 + 50
	}
	days := float64(rng.Intn(7) + 1)

	distance := rng.NormFloat64()*0.2 + 0.5
	if rng.Intn(2) == 1 {
		distance = rng.NormFloat64()*10 + 50
	}
	battery := 100.0
	if rng.Intn(2) == 0 {
		battery = rng.NormFloat64()*2 + 5
	}
	accuracy := rng.NormFloat64()*20 + 100
	if rng.Intn(2) == 1 {
		accuracy = rng.NormFloat64()*0.1 + 1
	}
	return model.TelemetrySample{
		Hour:                hour,
		SpeedKmh:            math.Max(0, speed),
		DistanceFromEntryKm: distance,
		BatteryLevel:        clamp(battery, 0, 100),
		GPSAccuracyM:        math.Max(1, accuracy),
		RiskZoneDistanceKm:  rng.ExpFloat64() * 0.5,
		DaysSinceEntry:      days,
	}
}

var (
	weatherRisk = map[string]int{"clear": 0, "cloudy": 1, "rain": 3, "storm": 5, "fog": 4}
	terrainRisk = map[string]int{"urban": 0, "forest": 2, "mountain": 4, "river": 3, "desert": 4}
	timeRisk    = map[string]int{"morning": 1, "afternoon": 0, "evening": 2, "night": 4}
	seasonRisk  = map[string]int{"spring": 1, "summer": 2, "monsoon": 4, "winter": 2}
	experience  = map[string]int{"beginner": 2, "intermediate": 0, "expert": -1}

	weathers    = []string{"clear", "cloudy", "rain", "storm", "fog"}
	terrains    = []string{"urban", "forest", "mountain", "river", "desert"}
	timesOfDay  = []string{"morning", "afternoon", "evening", "night"}
	seasons     = []string{"spring", "summer", "monsoon", "winter"}
	experiences = []string{"beginner", "intermediate", "expert"}
)

// RiskLabel is the rule the synthetic risk data is labelled with.
func RiskLabel(ctx model.RiskContext) string {
	score := weatherRisk[ctx.WeatherRisk] +
		terrainRisk[ctx.TerrainType] +
		timeRisk[ctx.TimeOfDay] +
		seasonRisk[ctx.Season] +
		experience[ctx.TouristExperience]
	switch {
	case ctx.GroupSize == 1:
		score += 2
	case ctx.GroupSize > 5:
		score++
	}
	if ctx.HasGuide {
		score -= 2
	}
	if ctx.EmergencyEquipment {
		score--
	}
	switch {
	case score <= 2:
		return model.RiskLow
	case score <= 5:
		return model.RiskMedium
	case score <= 8:
		return model.RiskHigh
	}
	return model.RiskCritical
}

type LabeledContext struct {
	Context model.RiskContext
	Level   string
}

// RiskContexts draws n uniformly random contexts labelled by RiskLabel.
func RiskContexts(n int, seed int64) []LabeledContext {
	rng := rand.New(rand.NewSource(seed))
	out := make([]LabeledContext, n)
	for i := range out {
		ctx := model.RiskContext{
			WeatherRisk:        pick(rng, weathers),
			TerrainType:        pick(rng, terrains),
			TimeOfDay:          pick(rng, timesOfDay),
			Season:             pick(rng, seasons),
			TouristExperience:  pick(rng, experiences),
			GroupSize:          float64(rng.Intn(8) + 1),
			HasGuide:           rng.Intn(2) == 1,
			EmergencyEquipment: rng.Intn(2) == 1,
		}
		if ctx.TerrainType == "mountain" {
			ctx.Elevation = rng.NormFloat64()*500 + 1000
		} else {
			ctx.Elevation = rng.NormFloat64()*50 + 100
		}
		ctx.Temperature = rng.NormFloat64()*10 + 25
		ctx.Humidity = rng.NormFloat64()*20 + 70
		out[i] = LabeledContext{Context: ctx, Level: RiskLabel(ctx)}
	}
	return out
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.Intn(len(values))]
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
