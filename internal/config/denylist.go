package config

// DefaultExcludedDomains returns the domains a fresh install never tracks:
// banking, password managers, auth providers and healthcare portals.
func DefaultExcludedDomains() []string {
	return []string{
		// Banking & Financial
		"chase.com",
		"bankofamerica.com",
		"wellsfargo.com",
		"capitalone.com",
		"schwab.com",
		"fidelity.com",
		"paypal.com",

		// Password Managers
		"1password.com",
		"lastpass.com",
		"bitwarden.com",

		// Authentication & Identity
		"accounts.google.com",
		"login.microsoftonline.com",
		"okta.com",

		// Healthcare
		"mychart.com",
		"healthcare.gov",
	}
}
