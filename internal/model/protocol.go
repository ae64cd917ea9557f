package model

type ModelCommand string

const (
	LoadModel   ModelCommand = "LOAD"
	UnloadModel ModelCommand = "UNLOAD"
	CheckModel  ModelCommand = "CHECK"
)

type ModelLocation string

const (
	GPU  ModelLocation = "GPU"
	CPU  ModelLocation = "CPU"
	None ModelLocation = "NONE"
)

// commandHeader marks model management requests so the worker can tell them
// apart from generation requests.
const commandHeader = "MODEL:"

type ModelRequest struct {
	Command ModelCommand `json:"command"`
	ModelID string       `json:"model_id"`
	HFToken string       `json:"hf_token,omitempty"`
}

type ModelResponse struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Location ModelLocation `json:"location,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type GenerateRequest struct {
	ModelID      string `json:"model_id"`
	Prompt       string `json:"prompt"`
	Image        string `json:"image,omitempty"`
	MaxNewTokens int    `json:"max_new_tokens"`
	DoSample     bool   `json:"do_sample"`
}

type GenerateResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error,omitempty"`
}
