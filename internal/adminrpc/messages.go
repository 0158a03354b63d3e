package adminrpc

import "time"

type Empty struct{}

type PingResponse struct {
	Status string `json:"status"`
}

type SignupRequest struct {
	Password string `json:"password"`
}

type SignupResponse struct {
	Handle string `json:"handle"`
	GUID   string `json:"guid"`
}

type LoginRequest struct {
	Handle   string `json:"handle"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
}

// QueueItem describes one stored envelope without its body.
type QueueItem struct {
	ID         int64     `json:"id"`
	Public     bool      `json:"public"`
	ReceivedAt time.Time `json:"received_at"`
	Size       int       `json:"size"`
	Error      string    `json:"error,omitempty"`
}

type QueueStatusRequest struct {
	Public bool `json:"public"`
}

type QueueStatusResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueRunRequest drains the caller's queue, or the public one, for at
// most Budget.
type QueueRunRequest struct {
	Public bool          `json:"public"`
	Budget time.Duration `json:"budget"`
}

type QueueRunResponse struct {
	Processed int  `json:"processed"`
	Deferred  int  `json:"deferred"`
	Blocked   bool `json:"blocked"`
	More      bool `json:"more"`
}

type QueueItemRequest struct {
	ID int64 `json:"id"`
}

type FollowRequest struct {
	Handle   string `json:"handle"`
	Unfollow bool   `json:"unfollow"`
}

type Image struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
	Caption     string `json:"caption,omitempty"`
}

type PublishRequest struct {
	Text         string   `json:"text"`
	Subject      string   `json:"subject,omitempty"`
	Visibility   string   `json:"visibility"`
	Recipients   []string `json:"recipients,omitempty"`
	PollQuestion string   `json:"poll_question,omitempty"`
	PollAnswers  []string `json:"poll_answers,omitempty"`
	Image        *Image   `json:"image,omitempty"`
}

type ReplyRequest struct {
	ParentGUID string `json:"parent_guid"`
	Text       string `json:"text"`
	Visibility string `json:"visibility,omitempty"`
}

type ReshareRequest struct {
	GUID string `json:"guid"`
}

// PublishResponse names the stored post. DeliveryError is set when the
// post was stored but some peers could not be reached.
type PublishResponse struct {
	GUID          string `json:"guid"`
	DeliveryError string `json:"delivery_error,omitempty"`
}

type ProfileRequest struct {
	DisplayName string   `json:"display_name"`
	Bio         string   `json:"bio"`
	Tags        []string `json:"tags,omitempty"`
	Avatar      *Image   `json:"avatar,omitempty"`
}
