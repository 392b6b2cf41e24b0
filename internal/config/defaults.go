package config

// Default returns the configuration used when no config file is given
func Default() *Config {
	return &Config{
		Views: DefaultViews(),
	}
}

// DefaultViews returns the built-in dashboard views.
// Each call returns a fresh copy.
//
// The stock, alert, analytics, social and visuals paths are the ones the
// analytics API serves. The pipeline, storage, quality and market index paths
// are assumed endpoints for the pipeline monitor, warehouse, data lake and
// quality report modules; a config file overrides them.
func DefaultViews() []ViewConfig {
	stocks := SourceConfig{
		ID:       "stocks",
		Path:     "/api/stocks",
		Query:    map[string]string{"limit": "30"},
		Required: true,
		Validate: []string{"stocks", "total"},
	}
	analytics := SourceConfig{
		ID:       "analytics",
		Path:     "/api/analytics",
		Required: true,
		Validate: []string{"total_stocks", "risk_distribution"},
	}
	alerts := SourceConfig{
		ID:       "alerts",
		Path:     "/api/alerts",
		Validate: []string{"alerts"},
	}
	trending := SourceConfig{
		ID:       "trending",
		Path:     "/api/social/trending",
		Query:    map[string]string{"limit": "10"},
		Validate: []string{"trending"},
	}
	heatmap := SourceConfig{
		ID:       "heatmap",
		Path:     "/api/visuals/heatmap",
		Validate: []string{"heatmap"},
	}

	return []ViewConfig{
		{
			ID:       "dashboard",
			Title:    "Market Overview",
			Interval: "30s",
			Sources:  []SourceConfig{stocks, analytics, alerts, trending},
		},
		{
			ID:       "stocks",
			Title:    "Stocks",
			Interval: "60s",
			Sources:  []SourceConfig{stocks},
		},
		{
			ID:       "stock",
			Title:    "Stock Detail",
			Interval: "60s",
			Params: []ParamConfig{
				{Name: "ticker"},
				{Name: "exchange", Default: "nse"},
			},
			Sources: []SourceConfig{
				{
					ID:       "stock_detail",
					Path:     "/api/stocks/{ticker}",
					Query:    exchangeQuery(),
					Required: true,
					Validate: []string{"ticker", "risk_score", "risk_level"},
				},
				{
					ID:       "stock_history",
					Path:     "/api/stocks/{ticker}/history",
					Query:    map[string]string{"exchange": "{exchange}", "period": "3mo"},
					Validate: []string{"data", "count"},
				},
				{
					ID:       "stock_social",
					Path:     "/api/stocks/{ticker}/social",
					Query:    exchangeQuery(),
					Validate: []string{"ticker", "twitter"},
				},
				{
					ID:       "stock_explain",
					Path:     "/api/stocks/{ticker}/explain",
					Query:    exchangeQuery(),
					Validate: []string{"risk_level", "detector_scores"},
				},
				{
					ID:       "stock_predict",
					Path:     "/api/stocks/{ticker}/predict",
					Query:    exchangeQuery(),
					Validate: []string{"crash_probability", "alert_level"},
				},
			},
		},
		{
			ID:       "alerts",
			Title:    "Alerts",
			Interval: "30s",
			Sources: []SourceConfig{
				required(alerts),
				{
					ID:       "predictive_alerts",
					Path:     "/api/alerts/predictive",
					Validate: []string{"alerts"},
				},
			},
		},
		{
			ID:       "social",
			Title:    "Social Sentiment",
			Interval: "60s",
			Sources:  []SourceConfig{required(trending), heatmap},
		},
		{
			ID:       "visuals",
			Title:    "Risk Visuals",
			Interval: "120s",
			Sources: []SourceConfig{
				required(heatmap),
				{
					ID:       "correlation",
					Path:     "/api/visuals/correlation",
					Validate: []string{"correlation", "tickers"},
				},
			},
		},
		{
			ID:       "pipelines",
			Title:    "Pipeline Health",
			Interval: "15s",
			Sources: []SourceConfig{
				{
					ID:       "pipeline_catalog",
					Path:     "/api/pipeline/list",
					Required: true,
					Validate: []string{"pipelines"},
				},
				{
					ID:       "pipeline_status",
					Path:     "/api/pipeline/status",
					Required: true,
					Validate: []string{"is_running"},
				},
				{
					ID:       "pipeline_health",
					Path:     "/api/pipeline/health",
					Validate: []string{"pipelines"},
				},
				{
					ID:       "pipeline_events",
					Path:     "/api/pipeline/events",
					Query:    map[string]string{"limit": "50"},
					Validate: []string{"events"},
				},
			},
		},
		{
			ID:       "storage",
			Title:    "Warehouse & Data Lake",
			Interval: "60s",
			Sources: []SourceConfig{
				{
					ID:       "warehouse_stats",
					Path:     "/api/storage/warehouse/stats",
					Required: true,
					Validate: []string{"stock_records"},
				},
				{
					ID:       "datalake_stats",
					Path:     "/api/storage/datalake/stats",
					Required: true,
					Validate: []string{"sources"},
				},
			},
		},
		{
			ID:       "quality",
			Title:    "Data Quality",
			Interval: "60s",
			Params:   []ParamConfig{{Name: "ticker", Default: "RELIANCE"}},
			Sources: []SourceConfig{
				{
					ID:       "quality_overall",
					Path:     "/api/quality/report",
					Required: true,
					Validate: []string{"overall_score"},
				},
				{
					ID:       "quality_ticker",
					Path:     "/api/quality/{ticker}",
					Validate: []string{"ticker", "completeness"},
				},
			},
		},
		{
			ID:       "ticker",
			Title:    "Market Indices",
			Interval: "10s",
			Sources: []SourceConfig{
				{
					ID:       "market_indices",
					Path:     "/api/market/indices",
					Required: true,
					Validate: []string{"indices"},
				},
			},
		},
	}
}

func required(src SourceConfig) SourceConfig {
	src.Required = true
	return src
}

func exchangeQuery() map[string]string {
	return map[string]string{"exchange": "{exchange}"}
}
