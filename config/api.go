package config

import "time"

// ApiConfig is the api server's full configuration surface, loaded from
// config.toml with environment-variable overrides (see config.go).
type ApiConfig struct {
	Server struct {
		Port              string        `toml:"port" env:"REGEN_API_PORT" env-default:"8080"`
		RateLimitPerMin   int           `toml:"rate_limit_per_min" env:"REGEN_API_RATE_LIMIT_PER_MIN" env-default:"60"`
		RetirementTimeout time.Duration `toml:"retirement_timeout" env:"REGEN_API_RETIREMENT_TIMEOUT" env-default:"30s"`
	} `toml:"server"`

	Balance struct {
		Host            string `toml:"host" env:"REGEN_BALANCE_DB_HOST"`
		Port            string `toml:"port" env:"REGEN_BALANCE_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"REGEN_BALANCE_DB_USER"`
		Password        string `toml:"password" env:"REGEN_BALANCE_DB_PASSWORD"`
		DB              string `toml:"db" env:"REGEN_BALANCE_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"REGEN_BALANCE_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"REGEN_BALANCE_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"REGEN_BALANCE_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"REGEN_BALANCE_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"REGEN_BALANCE_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"balance"`

	Redis struct {
		Host     string `toml:"host" env:"REGEN_REDIS_HOST"`
		Port     string `toml:"port" env:"REGEN_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"REGEN_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"REGEN_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	Ledger struct {
		RESTBaseURL      string        `toml:"rest_base_url" env:"REGEN_LEDGER_REST_BASE_URL"`
		GraphQLURL       string        `toml:"graphql_url" env:"REGEN_LEDGER_GRAPHQL_URL"`
		GRPCEndpoint     string        `toml:"grpc_endpoint" env:"REGEN_LEDGER_GRPC_ENDPOINT"`
		GRPCUseTLS       bool          `toml:"grpc_use_tls" env:"REGEN_LEDGER_GRPC_USE_TLS" env-default:"true"`
		ChainID          string        `toml:"chain_id" env:"REGEN_LEDGER_CHAIN_ID"`
		NativeDenom      string        `toml:"native_denom" env:"REGEN_LEDGER_NATIVE_DENOM" env-default:"uregen"`
		Mnemonic         string        `toml:"mnemonic" env:"REGEN_LEDGER_MNEMONIC"`
		DerivationPath   string        `toml:"derivation_path" env:"REGEN_LEDGER_DERIVATION_PATH"`
		RequestTimeout   time.Duration `toml:"request_timeout" env:"REGEN_LEDGER_REQUEST_TIMEOUT" env-default:"10s"`
		BroadcastTimeout time.Duration `toml:"broadcast_timeout" env:"REGEN_LEDGER_BROADCAST_TIMEOUT" env-default:"30s"`
	} `toml:"ledger"`

	Gateway struct {
		BaseURL   string        `toml:"base_url" env:"REGEN_GATEWAY_BASE_URL"`
		APIKey    string        `toml:"api_key" env:"REGEN_GATEWAY_API_KEY"`
		Timeout   time.Duration `toml:"timeout" env:"REGEN_GATEWAY_TIMEOUT" env-default:"10s"`
		USDCDenom string        `toml:"usdc_denom" env:"REGEN_GATEWAY_USDC_DENOM"`
		Currency  string        `toml:"currency" env:"REGEN_GATEWAY_CURRENCY" env-default:"usd"`
	} `toml:"gateway"`

	Webhook struct {
		Secret string `toml:"secret" env:"REGEN_WEBHOOK_SECRET"`
	} `toml:"webhook"`

	Auth struct {
		EmailCodeSecret         string        `toml:"email_code_secret" env:"REGEN_AUTH_EMAIL_CODE_SECRET"`
		OAuthStateSecret        string        `toml:"oauth_state_secret" env:"REGEN_AUTH_OAUTH_STATE_SECRET"`
		RecoverySecret          string        `toml:"recovery_secret" env:"REGEN_AUTH_RECOVERY_SECRET"`
		AllowedOAuthProviders   []string      `toml:"allowed_oauth_providers" env:"REGEN_AUTH_ALLOWED_OAUTH_PROVIDERS"`
		SessionTTL              time.Duration `toml:"session_ttl" env:"REGEN_AUTH_SESSION_TTL" env-default:"10m"`
		OAuthStateTTL           time.Duration `toml:"oauth_state_ttl" env:"REGEN_AUTH_OAUTH_STATE_TTL" env-default:"10m"`
		RecoveryTTL             time.Duration `toml:"recovery_ttl" env:"REGEN_AUTH_RECOVERY_TTL" env-default:"24h"`
		MaxVerificationAttempts int           `toml:"max_verification_attempts" env:"REGEN_AUTH_MAX_VERIFICATION_ATTEMPTS" env-default:"5"`
	} `toml:"auth"`

	// Tiers maps gateway price ids to this system's tier ids, consulted by
	// internal/subscription.StaticTierResolver.
	Tiers map[string]string `toml:"tiers"`

	// Batch configures cmd/worker/batch's scheduled monthly driver.
	Batch struct {
		CreditTypes            []string      `toml:"credit_types" env:"REGEN_BATCH_CREDIT_TYPES"`
		Interval               time.Duration `toml:"interval" env:"REGEN_BATCH_INTERVAL" env-default:"24h"`
		Live                   bool          `toml:"live" env:"REGEN_BATCH_LIVE" env-default:"false"`
		Force                  bool          `toml:"force" env:"REGEN_BATCH_FORCE" env-default:"false"`
		SyncBeforeBatch        bool          `toml:"sync_before_batch" env:"REGEN_BATCH_SYNC_BEFORE_BATCH" env-default:"true"`
		PreflightFreshness     time.Duration `toml:"preflight_freshness" env:"REGEN_BATCH_PREFLIGHT_FRESHNESS" env-default:"24h"`
		PreferredDenom         string        `toml:"preferred_denom" env:"REGEN_BATCH_PREFERRED_DENOM"`
		BeneficiaryName        string        `toml:"beneficiary_name" env:"REGEN_BATCH_BENEFICIARY_NAME"`
		RetirementJurisdiction string        `toml:"retirement_jurisdiction" env:"REGEN_BATCH_RETIREMENT_JURISDICTION"`
		MarketplaceURL         string        `toml:"marketplace_url" env:"REGEN_BATCH_MARKETPLACE_URL"`
		FeeBasisPoints         int64         `toml:"fee_basis_points" env:"REGEN_BATCH_FEE_BASIS_POINTS" env-default:"0"`
	} `toml:"batch"`

	DataDir string `toml:"data_dir" env:"REGEN_DATA_DIR" env-default:"./data"`
}
