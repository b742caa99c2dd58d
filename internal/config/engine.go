package config

import (
	"github.com/spf13/viper"

	"github.com/uncovering-world/track-your-regions-sub005/internal/model"
	"github.com/uncovering-world/track-your-regions-sub005/internal/strategy"
)

// Engine is the resolved runtime configuration.
type Engine struct {
	// DatabasePath is the SQLite file holding match state.
	DatabasePath string
	// GeometryDSN is the PostGIS connection string for the reference dataset.
	GeometryDSN string
	// NominatimURL overrides the public geocoding endpoint.
	NominatimURL string
	// RedisAddr enables the geocode cache when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AI     strategy.AIConfig
	Policy model.MatchingPolicy
}

// Load resolves the engine configuration from viper, applying defaults.
func Load() Engine {
	policy := model.DefaultMatchingPolicy()
	if viper.IsSet("matching.auto_accept_threshold") {
		policy.AutoAcceptThreshold = viper.GetFloat64("matching.auto_accept_threshold")
	}
	if viper.IsSet("matching.max_suggestions") {
		policy.MaxSuggestions = viper.GetInt("matching.max_suggestions")
	}
	if viper.IsSet("matching.use_geocode") {
		policy.UseGeocode = viper.GetBool("matching.use_geocode")
	}

	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/regionmatch/regionmatch.db"
	}

	return Engine{
		DatabasePath:  ExpandPath(dbPath),
		GeometryDSN:   viper.GetString("geometry.dsn"),
		NominatimURL:  viper.GetString("geocode.nominatim_url"),
		RedisAddr:     viper.GetString("geocode.redis_addr"),
		RedisPassword: viper.GetString("geocode.redis_password"),
		RedisDB:       viper.GetInt("geocode.redis_db"),
		AI: strategy.AIConfig{
			APIKey:  viper.GetString("ai.api_key"),
			BaseURL: viper.GetString("ai.base_url"),
			Models: map[strategy.Tier]string{
				strategy.TierFast:            viper.GetString("ai.models.fast"),
				strategy.TierReasoning:       viper.GetString("ai.models.reasoning"),
				strategy.TierReasoningSearch: viper.GetString("ai.models.reasoning_search"),
			},
			CostPerMTokIn: map[strategy.Tier]float64{
				strategy.TierFast:            viper.GetFloat64("ai.cost.fast_in"),
				strategy.TierReasoning:       viper.GetFloat64("ai.cost.reasoning_in"),
				strategy.TierReasoningSearch: viper.GetFloat64("ai.cost.reasoning_search_in"),
			},
			CostPerMTokOut: map[strategy.Tier]float64{
				strategy.TierFast:            viper.GetFloat64("ai.cost.fast_out"),
				strategy.TierReasoning:       viper.GetFloat64("ai.cost.reasoning_out"),
				strategy.TierReasoningSearch: viper.GetFloat64("ai.cost.reasoning_search_out"),
			},
		},
		Policy: policy,
	}
}
