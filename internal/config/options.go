package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Transport types.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Auth modes.
const (
	AuthModeNone  = "none"
	AuthModeJWT   = "jwt"
	AuthModeOAuth = "oauth"
	AuthModeIBMi  = "ibmi"
)

// Options are the process-level settings resolved from environment
// variables, later overridden by CLI flags.
type Options struct {
	TransportType  string
	HTTPPort       int
	HTTPHost       string
	AllowedOrigins []string
	AuthMode       string
	JWTSecret      string

	IBMiHTTPAuthEnabled    bool
	IBMiAuthAllowHTTP      bool
	TokenExpirySeconds     int
	CleanupIntervalSeconds int
	MaxConcurrentSessions  int
	PrivateKeyPath         string
	PublicKeyPath          string
	KeyID                  string

	// Static database source from the environment; used when no YAML
	// source section applies or as the handshake's host/port fallback.
	DB2iHost               string
	DB2iUser               string
	DB2iPass               string
	DB2iPort               int
	DB2iIgnoreUnauthorized bool

	ToolsPath        string
	SelectedToolsets []string

	Merge      MergeOptions
	AutoReload bool
}

// OptionsFromEnv reads every recognized environment variable, applying the
// documented defaults.
func OptionsFromEnv() *Options {
	v := viper.New()

	v.SetDefault("MCP_TRANSPORT_TYPE", TransportStdio)
	v.SetDefault("MCP_HTTP_PORT", 3010)
	v.SetDefault("MCP_HTTP_HOST", "127.0.0.1")
	v.SetDefault("MCP_ALLOWED_ORIGINS", "")
	v.SetDefault("MCP_AUTH_MODE", AuthModeNone)
	v.SetDefault("MCP_JWT_SECRET", "")
	v.SetDefault("IBMI_HTTP_AUTH_ENABLED", false)
	v.SetDefault("IBMI_AUTH_ALLOW_HTTP", false)
	v.SetDefault("IBMI_AUTH_TOKEN_EXPIRY_SECONDS", 3600)
	v.SetDefault("IBMI_AUTH_CLEANUP_INTERVAL_SECONDS", 300)
	v.SetDefault("IBMI_AUTH_MAX_CONCURRENT_SESSIONS", 100)
	v.SetDefault("IBMI_AUTH_PRIVATE_KEY_PATH", "")
	v.SetDefault("IBMI_AUTH_PUBLIC_KEY_PATH", "")
	v.SetDefault("IBMI_AUTH_KEY_ID", "")
	v.SetDefault("DB2i_HOST", "")
	v.SetDefault("DB2i_USER", "")
	v.SetDefault("DB2i_PASS", "")
	v.SetDefault("DB2i_PORT", DefaultGatewayPort)
	v.SetDefault("DB2i_IGNORE_UNAUTHORIZED", false)
	v.SetDefault("TOOLS_YAML_PATH", "")
	v.SetDefault("SELECTED_TOOLSETS", "")
	v.SetDefault("YAML_MERGE_ARRAYS", true)
	v.SetDefault("YAML_ALLOW_DUPLICATE_TOOLS", false)
	v.SetDefault("YAML_ALLOW_DUPLICATE_SOURCES", false)
	v.SetDefault("YAML_VALIDATE_MERGED", true)
	v.SetDefault("YAML_AUTO_RELOAD", false)

	v.AutomaticEnv()

	// AutomaticEnv uppercases lookup keys before consulting the process
	// environment, which would silently drop the documented mixed-case
	// DB2i_* spelling on case-sensitive platforms. Bind both spellings
	// explicitly, documented form first.
	for _, key := range []string{
		"DB2i_HOST", "DB2i_USER", "DB2i_PASS", "DB2i_PORT", "DB2i_IGNORE_UNAUTHORIZED",
	} {
		_ = v.BindEnv(key, key, strings.ToUpper(key))
	}

	return &Options{
		TransportType:  strings.ToLower(v.GetString("MCP_TRANSPORT_TYPE")),
		HTTPPort:       v.GetInt("MCP_HTTP_PORT"),
		HTTPHost:       v.GetString("MCP_HTTP_HOST"),
		AllowedOrigins: splitList(v.GetString("MCP_ALLOWED_ORIGINS")),
		AuthMode:       strings.ToLower(v.GetString("MCP_AUTH_MODE")),
		JWTSecret:      v.GetString("MCP_JWT_SECRET"),

		IBMiHTTPAuthEnabled:    v.GetBool("IBMI_HTTP_AUTH_ENABLED"),
		IBMiAuthAllowHTTP:      v.GetBool("IBMI_AUTH_ALLOW_HTTP"),
		TokenExpirySeconds:     v.GetInt("IBMI_AUTH_TOKEN_EXPIRY_SECONDS"),
		CleanupIntervalSeconds: v.GetInt("IBMI_AUTH_CLEANUP_INTERVAL_SECONDS"),
		MaxConcurrentSessions:  v.GetInt("IBMI_AUTH_MAX_CONCURRENT_SESSIONS"),
		PrivateKeyPath:         v.GetString("IBMI_AUTH_PRIVATE_KEY_PATH"),
		PublicKeyPath:          v.GetString("IBMI_AUTH_PUBLIC_KEY_PATH"),
		KeyID:                  v.GetString("IBMI_AUTH_KEY_ID"),

		DB2iHost:               v.GetString("DB2i_HOST"),
		DB2iUser:               v.GetString("DB2i_USER"),
		DB2iPass:               v.GetString("DB2i_PASS"),
		DB2iPort:               v.GetInt("DB2i_PORT"),
		DB2iIgnoreUnauthorized: v.GetBool("DB2i_IGNORE_UNAUTHORIZED"),

		ToolsPath:        v.GetString("TOOLS_YAML_PATH"),
		SelectedToolsets: splitList(v.GetString("SELECTED_TOOLSETS")),

		Merge: MergeOptions{
			MergeArrays:           v.GetBool("YAML_MERGE_ARRAYS"),
			AllowDuplicateTools:   v.GetBool("YAML_ALLOW_DUPLICATE_TOOLS"),
			AllowDuplicateSources: v.GetBool("YAML_ALLOW_DUPLICATE_SOURCES"),
			ValidateMerged:        v.GetBool("YAML_VALIDATE_MERGED"),
		},
		AutoReload: v.GetBool("YAML_AUTO_RELOAD"),
	}
}

// Validate rejects option combinations the server cannot run with.
func (o *Options) Validate() error {
	switch o.TransportType {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("unknown transport type %q", o.TransportType)
	}
	switch o.AuthMode {
	case AuthModeNone, AuthModeJWT, AuthModeIBMi:
	case AuthModeOAuth:
		// No verification backend exists for oauth; accepting it would
		// serve unauthenticated traffic under an auth-sounding mode.
		return fmt.Errorf("auth mode %q is not supported, use %q or %q", AuthModeOAuth, AuthModeJWT, AuthModeIBMi)
	default:
		return fmt.Errorf("unknown auth mode %q", o.AuthMode)
	}
	if o.AuthMode == AuthModeIBMi {
		if o.TransportType != TransportHTTP {
			return fmt.Errorf("auth mode %q requires the http transport", AuthModeIBMi)
		}
		if o.PrivateKeyPath == "" || o.PublicKeyPath == "" || o.KeyID == "" {
			return fmt.Errorf("auth mode %q requires IBMI_AUTH_PRIVATE_KEY_PATH, IBMI_AUTH_PUBLIC_KEY_PATH and IBMI_AUTH_KEY_ID", AuthModeIBMi)
		}
	}
	if o.AuthMode == AuthModeJWT && o.JWTSecret == "" {
		return fmt.Errorf("auth mode %q requires MCP_JWT_SECRET", AuthModeJWT)
	}
	if o.HTTPPort <= 0 || o.HTTPPort > 65535 {
		return fmt.Errorf("http port %d out of range", o.HTTPPort)
	}
	if o.TokenExpirySeconds <= 0 {
		return fmt.Errorf("token expiry must be positive")
	}
	return nil
}

// StaticSource builds a SourceSpec from the DB2i_* environment variables,
// or nil when no host is configured.
func (o *Options) StaticSource() *SourceSpec {
	if o.DB2iHost == "" {
		return nil
	}
	return &SourceSpec{
		Host:               o.DB2iHost,
		User:               o.DB2iUser,
		Password:           o.DB2iPass,
		Port:               o.DB2iPort,
		IgnoreUnauthorized: o.DB2iIgnoreUnauthorized,
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
