package models

// Catalog holds the cosmetic display defaults for the dashboard: the closed
// label set rendered in the classification matrix, the placeholder feature
// names shown before a result exists, and the status indicator colors.
type Catalog struct {
	Labels           []string                  `json:"labels" yaml:"labels"`
	PlaceholderNames []string                  `json:"placeholderFeatures" yaml:"placeholder_features"`
	StatusColors     map[AnalysisStatus]string `json:"statusColors" yaml:"status_colors"`
}

// HasLabel reports whether label is part of the closed label set.
func (c *Catalog) HasLabel(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// StatusColor returns the indicator color for a status, or "gray" if unmapped.
func (c *Catalog) StatusColor(s AnalysisStatus) string {
	if color, ok := c.StatusColors[s]; ok && color != "" {
		return color
	}
	return "gray"
}
