package stages

// IntentSchema describes the structured project intent produced by the
// intent stage.
var IntentSchema = map[string]any{
	"type":     "object",
	"required": []any{"project_name", "description", "required_features"},
	"properties": map[string]any{
		"project_name": map[string]any{"type": "string"},
		"description":  map[string]any{"type": "string"},
		"project_type": map[string]any{"type": "string", "description": "web app, cli, library, service, ..."},
		"tech_stack": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"frontend": map[string]any{"type": "string"},
				"backend":  map[string]any{"type": "string"},
				"database": map[string]any{"type": "string"},
			},
		},
		"required_features": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
}

const intentSystemPrompt = `You analyze a request for a new software project and translate it into a structured JSON object.
Infer missing details such as project_name from the description, but do not invent features.
Leave a technology blank when it is not specified. Return only JSON matching the requested schema.`

const rulesSystemPrompt = `You write a concise, project-specific rules document for a team of coding agents, derived from the project intent.
Cover coding standards for the stack, security practices for the project type, documentation requirements,
testing expectations, naming and file layout, and error handling and logging.
Keep every rule actionable. Output clean Markdown only.`

const taskListSystemPrompt = `You turn the required_features of a project intent into a sequential master task list.
Order tasks by dependency: setup and planning first, then backend, frontend, and QA.
Each item is a Markdown checkbox ("- [ ] ...") describing one clear, testable task. Output clean Markdown only.`

const prdSystemPrompt = `You are a product manager writing a Product Requirements Document with these sections:
Summary; Goals and Non-Goals; User Stories (3-5, "As a... I want... So that..."); Requirements (functional and non-functional);
Milestones (M1 MVP, M2 polish); Tech Stack with rationale; Success Metrics. Output clean Markdown only.`
