package config

import (
	"go.uber.org/zap"
)

// CredentialSource is the subset of the vault the loader needs. It is an
// interface so the loader does not force a vault to exist — tests and
// vault-less installs pass nil.
type CredentialSource interface {
	Get(id string) (username, password string, ok bool)
}

// SMTPCredentialID is the vault id conventionally holding the SMTP
// credentials.
const SMTPCredentialID = "smtp"

// ResolveCredentials fills (username, password) pairs from the vault,
// falling back to the values already present in the config for any id
// the vault does not hold. The vault always wins when it has an entry.
func ResolveCredentials(cfg *Config, source CredentialSource, logger *zap.Logger) {
	if source == nil {
		return
	}

	for i := range cfg.Databases {
		d := &cfg.Databases[i]
		if d.Kind == KindFiles {
			continue
		}
		if user, pass, ok := source.Get(d.CredentialID()); ok {
			d.Username = user
			d.Password = pass
			logger.Debug("resolved credentials from vault",
				zap.String("instance", d.ID),
				zap.String("credential_id", d.CredentialID()),
			)
		}
	}

	if user, pass, ok := source.Get(SMTPCredentialID); ok {
		cfg.Email.SMTPUser = user
		cfg.Email.SMTPPassword = pass
		logger.Debug("resolved smtp credentials from vault")
	}
}
