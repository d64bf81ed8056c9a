// Package instructions holds the auxiliary guidance fragments that get
// folded into the system prompt when they are relevant to the current
// user query. The catalog is small and static; selection is hybrid,
// combining semantic similarity against each fragment's description
// with plain keyword matching.
package instructions

// Fragment is one selectable block of system guidance. Description is
// what gets embedded for similarity matching; Body is what ends up in
// the prompt.
type Fragment struct {
	Name        string
	Description string
	Keywords    []string
	Body        string
}

// BasePrompt is always included, before any selected fragments.
const BasePrompt = "You are Steward, an intelligent personal assistant that helps users manage their tasks, email, and calendar."

// ErrorHandlingFragment names the recovery-guidance fragment appended
// to synthesized tool failure responses.
const ErrorHandlingFragment = "error_handling"

// Catalog returns the full fragment set. Callers must not mutate the
// returned slice.
func Catalog() []Fragment {
	return catalog
}

var catalog = []Fragment{
	{
		Name: "email_assistant",
		Description: "Email management, searching emails, sending emails, " +
			"replying to emails, inbox organization",
		Keywords: []string{"email", "inbox", "send", "reply", "message", "mail", "unread"},
		Body: "You are an email communication expert. Help users manage their inbox effectively. " +
			"When searching mail, prefer narrow queries and summarize results rather than dumping full bodies. " +
			"Confirm recipient and subject before sending on the user's behalf.",
	},
	{
		Name: "task_management",
		Description: "Task creation, todo lists, priority management, deadlines, task " +
			"organization, project management",
		Keywords: []string{"task", "todo", "priority", "due", "deadline", "project"},
		Body: "You are a task management expert. Help users organize their work effectively. " +
			"When asked what to do next, consider both priority and due date, and explain the choice briefly.",
	},
	{
		Name: "productivity_coach",
		Description: "Time management, workflow optimization, efficiency tips, scheduling, " +
			"productivity advice",
		Keywords: []string{"productivity", "workflow", "efficient", "optimize", "improve", "organize"},
		Body: "You are a productivity coach helping users optimize their workflow. " +
			"Offer concrete, small adjustments rather than sweeping process changes.",
	},
	{
		Name:        "error_handling",
		Description: "Error recovery, troubleshooting, problem solving, graceful failure handling",
		Keywords:    []string{"error", "problem", "issue", "fix", "troubleshoot", "debug"},
		Body: "When tools fail or errors occur, help users recover gracefully. " +
			"State plainly what failed, suggest one alternative, and never invent a result the tool did not return.",
	},
	{
		Name:        "conversation_context",
		Description: "Maintaining conversation flow, context awareness, continuity in dialogue",
		Keywords:    []string{"remember", "context", "previous", "earlier", "before"},
		Body: "Maintain conversation context and provide continuity in your responses. " +
			"Refer back to earlier turns when the user does, and ask before assuming stale details still hold.",
	},
	{
		Name: "web_search_system",
		Description: "Web research, news search, information gathering, content fetching, " +
			"source attribution, current events, real-time information",
		Keywords: []string{
			"news", "weather", "latest", "today", "search", "research",
			"look up", "article", "forecast", "current",
		},
		Body: "When answering from fetched web content, attribute claims to their source pages " +
			"and list the URLs you actually used. Do not cite pages you did not fetch, and say so " +
			"when the available sources disagree.",
	},
	{
		Name: "calendar_assistant",
		Description: "Calendar management, scheduling events, meeting coordination, appointment " +
			"booking, event creation, schedule planning",
		Keywords: []string{
			"calendar", "schedule", "meeting", "appointment", "event",
			"booking", "agenda", "availability",
		},
		Body: "You are a scheduling assistant. Check for conflicts before proposing or creating " +
			"events, state times with their timezone, and confirm attendees and duration before booking.",
	},
}

// Get returns the named fragment, or false when the catalog has no
// entry under that name.
func Get(name string) (Fragment, bool) {
	for _, f := range catalog {
		if f.Name == name {
			return f, true
		}
	}
	return Fragment{}, false
}
