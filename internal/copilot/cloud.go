package copilot

import (
	"fmt"
	"strings"
)

// Cloud describes the hosts of one Power Platform cloud.
type Cloud struct {
	Name            string
	APIHost         string
	AuthorityHost   string
	EnvironmentHost string
}

var clouds = []Cloud{
	{
		Name:            "Prod",
		APIHost:         "api.powerplatform.com",
		AuthorityHost:   "login.microsoftonline.com",
		EnvironmentHost: "environment.api.powerplatform.com",
	},
	{
		Name:            "Gov",
		APIHost:         "api.gov.powerplatform.microsoft.us",
		AuthorityHost:   "login.microsoftonline.com",
		EnvironmentHost: "environment.api.gov.powerplatform.microsoft.us",
	},
	{
		Name:            "High",
		APIHost:         "api.high.powerplatform.microsoft.us",
		AuthorityHost:   "login.microsoftonline.us",
		EnvironmentHost: "environment.api.high.powerplatform.microsoft.us",
	},
	{
		Name:            "DoD",
		APIHost:         "api.appsplatform.us",
		AuthorityHost:   "login.microsoftonline.us",
		EnvironmentHost: "environment.api.appsplatform.us",
	},
	{
		Name:            "Mooncake",
		APIHost:         "api.powerplatform.partner.microsoftonline.cn",
		AuthorityHost:   "login.chinacloudapi.cn",
		EnvironmentHost: "environment.api.powerplatform.partner.microsoftonline.cn",
	},
}

// LookupCloud finds a cloud by name, case-insensitively. An empty name is
// the public cloud.
func LookupCloud(name string) (Cloud, bool) {
	if name == "" {
		return clouds[0], true
	}
	for _, c := range clouds {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Cloud{}, false
}

// CloudNames lists the supported cloud names.
func CloudNames() []string {
	names := make([]string, len(clouds))
	for i, c := range clouds {
		names[i] = c.Name
	}
	return names
}

// Scope returns the client-credentials scope for the cloud's API.
func (c Cloud) Scope() string {
	return "https://" + c.APIHost + "/.default"
}

// BaseURL builds the bot endpoint for an environment and agent schema name.
// The environment id is normalized (lower case, no dashes) and split into a
// host prefix and a two-character suffix.
func BaseURL(cloud Cloud, environmentID, schemaName string) (string, error) {
	id := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(environmentID), "-", ""))
	if len(id) < 3 {
		return "", fmt.Errorf("invalid environment id %q", environmentID)
	}
	if schemaName == "" {
		return "", fmt.Errorf("schema name is required")
	}
	prefix, suffix := id[:len(id)-2], id[len(id)-2:]
	return fmt.Sprintf("https://%s.%s.%s/copilotstudio/dataverse-backed/authenticated/bots/%s",
		prefix, suffix, cloud.EnvironmentHost, schemaName), nil
}
