// pkg/registry/schema.go
package registry

// JSONSchema is a JSON Schema document describing job variables.
type JSONSchema = map[string]interface{}

// ActivityRegistry is the catalogue of job workers served by the dining
// worker manager. It is exported to configs/activity-registry.json and served
// on /activities so process models can be checked against it.
type ActivityRegistry struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
}

// Activity describes one dining task type: the variables a BPMN service task
// must send (InputSchema), what the worker completes the job with
// (OutputSchema), and the BPMN error codes it may throw.
type Activity struct {
	ID                   string     `json:"id"`
	DisplayName          string     `json:"displayName"`
	Description          string     `json:"description"`
	Category             string     `json:"category"`
	Version              string     `json:"version"`
	TaskType             string     `json:"taskType"` // Zeebe job type, e.g. "search-businesses"
	ImplementationStatus string     `json:"implementationStatus"`
	InputSchema          JSONSchema `json:"inputSchema"`
	OutputSchema         JSONSchema `json:"outputSchema"`
	ErrorCodes           []string   `json:"errorCodes"`
	Timeout              string     `json:"timeout"` // Go duration, the worker's job timeout
	Retries              int        `json:"retries"`
	Workflows            []string   `json:"workflows"` // BPMN process ids using the task, e.g. "dinner-recommendation"
	Tags                 []string   `json:"tags"`
}

// Statuses accepted for ImplementationStatus.
var Statuses = []string{"planned", "in-progress", "completed", "verified"}
