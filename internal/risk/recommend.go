package risk

import "safeguard/internal/model"

// Recommendations lists safety advice for a classified context.
func Recommendations(res model.RiskResult, ctx model.RiskContext) []string {
	var out []string
	if res.RiskLevel == model.RiskHigh || res.RiskLevel == model.RiskCritical {
		out = append(out,
			"Consider postponing travel or seeking professional guidance",
			"Ensure emergency communication devices are available",
		)
	}
	switch ctx.WeatherRisk {
	case "storm", "fog":
		out = append(out, "Monitor weather conditions closely and seek shelter if necessary")
	}
	switch ctx.TerrainType {
	case "mountain", "forest":
		out = append(out, "Travel with experienced guide and proper equipment")
	}
	if ctx.TimeOfDay == "night" {
		out = append(out, "Avoid nighttime travel in unfamiliar areas")
	}
	if ctx.GroupSize == 1 {
		out = append(out, "Consider traveling with a group for added safety")
	}
	if !ctx.HasGuide {
		out = append(out, "Consider hiring a local guide familiar with the area")
	}
	if !ctx.EmergencyEquipment {
		out = append(out, "Carry emergency equipment including first aid kit and communication devices")
	}
	if len(out) == 0 {
		out = append(out, "Follow standard safety precautions and stay alert")
	}
	return out
}
