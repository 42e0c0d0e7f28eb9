package observability

const (
	AttrScope        = "memory.scope"
	AttrTier         = "memory.tier"
	AttrProvider     = "llm.provider"
	AttrModel        = "llm.model"
	AttrAgentStatus  = "agent.status"
	AttrErrorType    = "error.type"
	AttrHTTPMethod   = "http.method"
	AttrHTTPPath     = "http.path"
	AttrHTTPStatus   = "http.status_code"
	AttrHTTPRespSize = "http.response_size"

	SpanHTTPRequest = "http.request"
	SpanInjection   = "memory.injection"
	SpanAgentRun    = "agent.run"
	SpanLLMRequest  = "llm.request"

	DefaultServiceName = "agenthub"
)
