package config

import "time"

// ProcessConfig configures the acquisition program.
type ProcessConfig struct {
	NominatimURL   string
	LocalSearchURL string
	LocalSearchKey string
	UserAgent      string
	GridLat        int
	GridLon        int
	Concurrency    int
	MaxResults     int
	RequestTimeout time.Duration
	LogLevel       string
}

func ProcessFromEnv() ProcessConfig {
	conc := getint("LOCALSEARCH_CONCURRENCY", 4)
	if conc < 1 || conc > 5 {
		conc = 4
	}
	gridLat, gridLon := getint("GRID_LAT", 1), getint("GRID_LON", 1)
	if gridLat < 1 {
		gridLat = 1
	}
	if gridLon < 1 {
		gridLon = 1
	}
	return ProcessConfig{
		NominatimURL:   getenv("NOMINATIM_URL", "https://nominatim.openstreetmap.org/search"),
		LocalSearchURL: getenv("LOCALSEARCH_URL", "https://dev.virtualearth.net/REST/v1/LocalSearch/"),
		LocalSearchKey: getenv("LOCALSEARCH_KEY", ""),
		UserAgent:      getenv("ACQUIRE_USER_AGENT", "bizmap-acquire/1.0"),
		GridLat:        gridLat,
		GridLon:        gridLon,
		Concurrency:    conc,
		MaxResults:     25,
		RequestTimeout: getduration("ACQUIRE_REQUEST_TIMEOUT", 20*time.Second),
		LogLevel:       getenv("LOG_LEVEL", "info"),
	}
}
