package cache

import "time"

// Policy holds the two TTL horizons for a resource type. Entries younger
// than Fresh are served as-is; entries between Fresh and Stale are served
// but flagged stale; entries older than Stale are removed on read.
type Policy struct {
	Fresh time.Duration
	Stale time.Duration
}

// defaultPolicy applies to resource types without an explicit entry.
var defaultPolicy = Policy{Fresh: 5 * time.Minute, Stale: 30 * time.Minute}

// policies maps each resource type to its TTL horizons. Folder structure
// changes rarely; mail and search results churn quickly.
var policies = map[string]Policy{
	"folder_get_tree": {Fresh: 10 * time.Minute, Stale: 60 * time.Minute},
	"folder_list":     {Fresh: 5 * time.Minute, Stale: 30 * time.Minute},
	"email_list":      {Fresh: 2 * time.Minute, Stale: 10 * time.Minute},
	"email_get":       {Fresh: 10 * time.Minute, Stale: 60 * time.Minute},
	"file_list":       {Fresh: 5 * time.Minute, Stale: 30 * time.Minute},
	"file_get":        {Fresh: 10 * time.Minute, Stale: 60 * time.Minute},
	"contact_list":    {Fresh: 10 * time.Minute, Stale: 60 * time.Minute},
	"contact_get":     {Fresh: 10 * time.Minute, Stale: 60 * time.Minute},
	"calendar_list":   {Fresh: 2 * time.Minute, Stale: 10 * time.Minute},
	"calendar_get":    {Fresh: 5 * time.Minute, Stale: 30 * time.Minute},
	"search_emails":   {Fresh: 2 * time.Minute, Stale: 10 * time.Minute},
	"search_files":    {Fresh: 2 * time.Minute, Stale: 10 * time.Minute},
	"search_events":   {Fresh: 2 * time.Minute, Stale: 10 * time.Minute},
	"search_contacts": {Fresh: 2 * time.Minute, Stale: 10 * time.Minute},
	"search_unified":  {Fresh: 1 * time.Minute, Stale: 5 * time.Minute},
}

// PolicyFor returns the TTL policy for a resource type.
func PolicyFor(resourceType string) Policy {
	if p, ok := policies[resourceType]; ok {
		return p
	}
	return defaultPolicy
}
