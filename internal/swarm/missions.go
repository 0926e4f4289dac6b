package swarm

// DefaultMissions is the catalogue the demo launches: one swarm per entry.
func DefaultMissions() map[string]Mission {
	return map[string]Mission{
		"infra": {
			Name:      "Infrastructure Hardening",
			Objective: "keep the platform reliable, observable and secure",
			Color:     "#4f9dde",
			Priority:  PriorityHigh,
			Roles: []Role{
				{Name: "productManager", Capabilities: []string{"planning", "coordination", "prioritization"}},
				{Name: "sre", Capabilities: []string{"monitoring", "incident-response", "automation"}},
				{Name: "securityEngineer", Capabilities: []string{"security", "auditing", "compliance"}},
				{Name: "platformEngineer", Capabilities: []string{"kubernetes", "networking", "automation"}},
			},
		},
		"dev": {
			Name:      "Feature Delivery",
			Objective: "ship the next release with full test coverage",
			Color:     "#5fbf77",
			Priority:  PriorityMedium,
			Roles: []Role{
				{Name: "productManager", Capabilities: []string{"planning", "coordination", "prioritization"}},
				{Name: "backendDeveloper", Capabilities: []string{"go", "api-design", "databases"}},
				{Name: "frontendDeveloper", Capabilities: []string{"typescript", "ui", "accessibility"}},
				{Name: "qaEngineer", Capabilities: []string{"testing", "automation", "auditing"}},
			},
		},
		"analytics": {
			Name:      "Insight Mining",
			Objective: "turn product telemetry into actionable insight",
			Color:     "#c77dff",
			Priority:  PriorityMedium,
			Roles: []Role{
				{Name: "productManager", Capabilities: []string{"planning", "coordination", "prioritization"}},
				{Name: "dataEngineer", Capabilities: []string{"databases", "pipelines", "monitoring"}},
				{Name: "dataScientist", Capabilities: []string{"statistics", "machine-learning", "visualization"}},
			},
		},
	}
}

// MissionOrder is the launch order for DefaultMissions.
var MissionOrder = []string{"infra", "dev", "analytics"}

// DefaultOperations returns the hard-coded task list for each default
// mission. Task ids are left empty; the demo stamps them when it distributes.
func DefaultOperations() map[string][]Task {
	return map[string][]Task{
		"infra": {
			{Type: "audit", Target: "cluster RBAC policies", Priority: PriorityHigh, RequiredCapabilities: []string{"security", "auditing"}},
			{Type: "deploy", Target: "alerting rules for API latency", Priority: PriorityMedium},
			{Type: "migrate", Target: "ingress controller to gateway API", Priority: PriorityHigh, Complexity: "high", RequiredCapabilities: []string{"kubernetes", "networking", "testing"}},
			{Type: "automate", Target: "certificate rotation", Priority: PriorityLow},
		},
		"dev": {
			{Type: "implement", Target: "billing webhooks endpoint", Priority: PriorityHigh, RequiredCapabilities: []string{"go", "api-design"}},
			{Type: "test", Target: "checkout flow regression suite", Priority: PriorityMedium, RequiredCapabilities: []string{"testing", "automation"}},
			{Type: "refactor", Target: "settings page accessibility", Priority: PriorityLow},
			{Type: "integrate", Target: "usage metering pipeline", Priority: PriorityHigh, RequiresCollaboration: true, RequiredCapabilities: []string{"databases", "pipelines", "go"}},
			{Type: "document", Target: "public API changelog", Priority: PriorityLow},
		},
		"analytics": {
			{Type: "analyze", Target: "weekly retention cohorts", Priority: PriorityMedium, RequiredCapabilities: []string{"statistics"}},
			{Type: "build", Target: "anomaly model for signup funnel", Priority: PriorityHigh, Complexity: "high", RequiredCapabilities: []string{"machine-learning", "monitoring", "automation"}},
			{Type: "visualize", Target: "executive KPI dashboard", Priority: PriorityMedium},
		},
	}
}
