package config

import "sort"

// Presets builds fresh models by name.
var Presets = map[string]func() *Model{
	// Majorana fermion dark matter frozen out by s-wave annihilation
	"wimp": func() *Model {
		m := DefaultModel()
		m.Name = "wimp"
		m.Species = []SpeciesConfig{{
			Label:        "DM",
			Kind:         "thermal",
			DoF:          -2,
			Mass:         500,
			Annihilation: Constant(1.9e-9),
		}}
		return m
	},
	// a long-lived mediator decaying into dark matter and photons
	"mediator": func() *Model {
		m := DefaultModel()
		m.Name = "mediator"
		m.Species = []SpeciesConfig{
			{
				Label:        "Mediator",
				Kind:         "thermal",
				DoF:          1,
				Mass:         1000,
				Annihilation: Constant(1e-10),
				Decays: &DecayConfig{
					Width: 1e-16,
					Channels: []ChannelConfig{
						{Products: []string{"DM", "DM"}, Fraction: 0.01},
						{Products: []string{"photon", "photon"}, Fraction: 0.99, BathFraction: 1},
					},
				},
			},
			{
				Label:        "DM",
				Kind:         "thermal",
				DoF:          -2,
				Mass:         100,
				Annihilation: Constant(1e-9),
			},
		}
		return m
	},
	// a misalignment axion with a temperature independent mass
	"axion": func() *Model {
		m := DefaultModel()
		m.Name = "axion"
		m.Species = []SpeciesConfig{{
			Label:     "axion",
			Kind:      "CO",
			Mass:      1e-14,
			Amplitude: Constant(1e-32),
		}}
		return m
	},
	// a light scalar that freezes out relativistically
	"dark-radiation": func() *Model {
		m := DefaultModel()
		m.Name = "dark-radiation"
		m.FinalTemperature = 1e-4
		m.Species = []SpeciesConfig{{
			Label:        "phi",
			Kind:         "weakthermal",
			DoF:          1,
			Mass:         0,
			Annihilation: Constant(1e-20),
		}}
		return m
	},
}

// GetPreset returns a new model for a preset name, or nil.
func GetPreset(name string) *Model {
	build, ok := Presets[name]
	if !ok {
		return nil
	}
	return build()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
