// Package integrations routes messages to third-party tool providers
// over MCP. A static keyword table decides which integration a message
// needs; a bounded multi-turn loop drives the tool calls.
package integrations

import "strings"

// Integration describes one external MCP provider.
type Integration struct {
	Key         string
	Name        string
	Endpoint    string
	Label       string
	Keywords    []string
	Description string

	// Credential is injected from configuration at startup, keyed by
	// integration key. Never part of the static table.
	Credential string
}

// The static table, in priority order. First keyword hit wins, ties
// broken by table position.
var catalog = []Integration{
	{
		Key:         "google_drive",
		Name:        "Google Drive",
		Endpoint:    "https://mcp.zapier.com/api/mcp/mcp",
		Label:       "zapier-gdrive",
		Keywords:    []string{"google drive", "drive", "gdrive"},
		Description: "📁 **Google Drive**: buscar, listar, criar e gerenciar arquivos e pastas",
	},
	{
		Key:         "mcpEverhour",
		Name:        "Everhour",
		Endpoint:    "https://mcp.zapier.com/api/mcp/mcp",
		Label:       "zapier-mcpeverhour",
		Keywords:    []string{"everhour"},
		Description: "⏰ **Everhour**: controle de tempo, timesheet e rastreamento de horas",
	},
	{
		Key:         "mcpGmail",
		Name:        "Gmail",
		Endpoint:    "https://mcp.zapier.com/api/mcp/mcp",
		Label:       "zapier-mcpgmail",
		Keywords:    []string{"gmail"},
		Description: "📧 **Gmail**: enviar, ler e gerenciar emails",
	},
	{
		Key:         "mcpAsana",
		Name:        "Asana",
		Endpoint:    "https://mcp.zapier.com/api/mcp/mcp",
		Label:       "zapier-mcpasana",
		Keywords:    []string{"asana"},
		Description: "📋 **Asana**: gerenciar projetos, tarefas e workspaces",
	},
	{
		Key:         "mcpGoogleCalendar",
		Name:        "Google Calendar",
		Endpoint:    "https://mcp.zapier.com/api/mcp/mcp",
		Label:       "zapier-mcpgooglecalendar",
		Keywords:    []string{"calendar"},
		Description: "📅 **Google Calendar**: criar e gerenciar eventos, reuniões e compromissos",
	},
	{
		Key:         "mcpGoogleDocs",
		Name:        "Google Docs",
		Endpoint:    "https://mcp.zapier.com/api/mcp/mcp",
		Label:       "zapier-mcpgoogledocs",
		Keywords:    []string{"docs"},
		Description: "📝 **Google Docs**: criar, editar e gerenciar documentos de texto",
	},
	{
		Key:         "mcpGoogleSheets",
		Name:        "Google Sheets",
		Endpoint:    "https://mcp.zapier.com/api/mcp/mcp",
		Label:       "zapier-mcpgooglesheets",
		Keywords:    []string{"sheets"},
		Description: "📊 **Google Sheets**: criar, editar e gerenciar planilhas",
	},
	{
		Key:         "mcpSlack",
		Name:        "Slack",
		Endpoint:    "https://mcp.zapier.com/api/mcp/mcp",
		Label:       "zapier-mcpslack",
		Keywords:    []string{"slack"},
		Description: "💬 **Slack**: enviar mensagens para outros workspaces",
	},
}

// Registry is the read-only integration table with credentials bound.
type Registry struct {
	entries []Integration
}

// NewRegistry binds credentials onto the static table. Integrations
// without a credential stay listed but fail at call time, which keeps
// detection behavior independent of deployment configuration.
func NewRegistry(credentials map[string]string) *Registry {
	entries := make([]Integration, len(catalog))
	copy(entries, catalog)
	for i := range entries {
		entries[i].Credential = credentials[entries[i].Key]
	}
	return &Registry{entries: entries}
}

// Detect returns the first integration whose keyword appears in text,
// scanning in priority order. Case-insensitive substring match.
func (r *Registry) Detect(text string) (Integration, bool) {
	lower := strings.ToLower(text)
	for _, entry := range r.entries {
		for _, kw := range entry.Keywords {
			if strings.Contains(lower, kw) {
				return entry, true
			}
		}
	}
	return Integration{}, false
}

// Get looks an integration up by key.
func (r *Registry) Get(key string) (Integration, bool) {
	for _, entry := range r.entries {
		if entry.Key == key {
			return entry, true
		}
	}
	return Integration{}, false
}

// All returns the table in priority order.
func (r *Registry) All() []Integration {
	out := make([]Integration, len(r.entries))
	copy(out, r.entries)
	return out
}
