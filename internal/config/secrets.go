package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Exchange.AdminKey)
	redact(&out.Exchange.AdminKeyPassword)

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	redact(&out.Redis.Password)

	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	redact(&out.Server.APIKey)

	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Notify.WebhookSecret)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Exchange.AllowedCurves = cloneStrings(cfg.Exchange.AllowedCurves)
	out.Exchange.ExtraRouters = cloneStrings(cfg.Exchange.ExtraRouters)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	if cfg.Exchange.Assets != nil {
		out.Exchange.Assets = make([]AssetConfig, len(cfg.Exchange.Assets))
		copy(out.Exchange.Assets, cfg.Exchange.Assets)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
