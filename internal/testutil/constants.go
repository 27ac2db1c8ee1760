package testutil

// Credentials used by tests only.
const (
	TestAPIKey      = "sk-test-coach"
	TestClientKey   = "coach-client-key"
	TestClientName  = "web"
	TestAssistantID = "asst_test"
)
