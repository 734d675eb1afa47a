package dto

// MediaUploadResponse describes the stored asset metadata returned to the client.
type MediaUploadResponse struct {
	ID        uint   `json:"id"`
	Purpose   string `json:"purpose"`
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	Checksum  string `json:"checksum"`
	FileName  string `json:"file_name"`
}

// AssistantMessage is one prior turn of the assistant conversation.
type AssistantMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required,min=1,max=4000"`
}

// AssistantChatRequest is the payload for the assistant endpoint.
type AssistantChatRequest struct {
	Messages []AssistantMessage `json:"messages" validate:"required,min=1,max=40,dive"`
}

// AssistantChatResponse carries the assistant's reply.
type AssistantChatResponse struct {
	Reply string `json:"reply"`
}
