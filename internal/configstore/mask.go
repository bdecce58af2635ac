package configstore

// maskCredentials replaces every secret field with the mask literal for
// display (spec §4.1 invariant 8), e.g. in a GET response.
func maskCredentials(c Credentials) Credentials {
	masked := c
	if masked.InventoryAPIKey != "" {
		masked.InventoryAPIKey = maskLiteral
	}
	if masked.DNSBackendAPIToken != "" {
		masked.DNSBackendAPIToken = maskLiteral
	}
	if masked.WebhookSecret != "" {
		masked.WebhookSecret = maskLiteral
	}
	return masked
}

// resolveMaskedCredentials replaces any mask-literal field in incoming
// with the corresponding field from prior, so a caller that re-submits a
// masked document (one it only just read back) never clobbers the real
// secret with the mask literal itself.
func resolveMaskedCredentials(incoming, prior Credentials) Credentials {
	resolved := incoming
	if resolved.InventoryAPIKey == maskLiteral {
		resolved.InventoryAPIKey = prior.InventoryAPIKey
	}
	if resolved.DNSBackendAPIToken == maskLiteral {
		resolved.DNSBackendAPIToken = prior.DNSBackendAPIToken
	}
	if resolved.WebhookSecret == maskLiteral {
		resolved.WebhookSecret = prior.WebhookSecret
	}
	return resolved
}
