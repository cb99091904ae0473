package app

import (
	"github.com/charlesng35/credverify/internal/auth"
	"github.com/charlesng35/credverify/internal/database"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// AdminSeed converts the admin settings into the database seed description.
func (c AuthConfig) AdminSeed() database.AdminSeed {
	return database.AdminSeed{
		Name:     c.Admin.Name,
		Email:    c.Admin.Email,
		Password: c.Admin.Password,
	}
}
