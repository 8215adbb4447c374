package reporting

// Totals aggregates the maintained counters over one grouping key. Available
// is budget minus engaged.
type Totals struct {
	Key       string  `json:"key"`
	Budget    float64 `json:"budget"`
	Engaged   float64 `json:"engaged"`
	Invoiced  float64 `json:"invoiced"`
	Available float64 `json:"available"`
}

// YearTotals aggregates the yearly budget rows of one year.
type YearTotals struct {
	Year      int     `json:"year"`
	Budget    float64 `json:"budget"`
	Engaged   float64 `json:"engaged"`
	Invoiced  float64 `json:"invoiced"`
	Available float64 `json:"available"`
}

// ForecastOverview compares planned and realized spend for one year.
// Realized follows the linker's unsigned semantics.
type ForecastOverview struct {
	Year     int     `json:"year"`
	Planned  float64 `json:"planned"`
	Realized float64 `json:"realized"`
	Variance float64 `json:"variance"`
}
