package message

// Request asks the recipient to let the sender follow them.
type Request struct {
	SenderHandle    string `xml:"sender_handle"`
	RecipientHandle string `xml:"recipient_handle"`
}

// Retraction withdraws something. With Type "Person" it is an unsubscribe.
type Retraction struct {
	PostGUID       string `xml:"post_guid"`
	DiasporaHandle string `xml:"diaspora_handle"`
	Type           string `xml:"type"`
}

// RelayableRetraction and SignedRetraction withdraw content; both are
// accepted and ignored.
type RelayableRetraction struct {
	ParentAuthorSignature string `xml:"parent_author_signature"`
	TargetGUID            string `xml:"target_guid"`
	TargetType            string `xml:"target_type"`
	SenderHandle          string `xml:"sender_handle"`
	TargetAuthorSignature string `xml:"target_author_signature"`
}

type SignedRetraction struct {
	TargetGUID            string `xml:"target_guid"`
	TargetType            string `xml:"target_type"`
	SenderHandle          string `xml:"sender_handle"`
	TargetAuthorSignature string `xml:"target_author_signature"`
}

type Profile struct {
	DiasporaHandle string `xml:"diaspora_handle"`
	FirstName      string `xml:"first_name"`
	LastName       string `xml:"last_name"`
	ImageURL       string `xml:"image_url"`
	ImageURLSmall  string `xml:"image_url_small"`
	ImageURLMedium string `xml:"image_url_medium"`
	Birthday       string `xml:"birthday,omitempty"`
	Gender         string `xml:"gender,omitempty"`
	Bio            string `xml:"bio"`
	Location       string `xml:"location,omitempty"`
	Searchable     bool   `xml:"searchable"`
	NSFW           bool   `xml:"nsfw"`
	TagString      string `xml:"tag_string"`
}

// DisplayName joins first and last name.
func (p *Profile) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}

type StatusMessage struct {
	RawMessage          string `xml:"raw_message"`
	GUID                string `xml:"guid"`
	DiasporaHandle      string `xml:"diaspora_handle"`
	Public              bool   `xml:"public"`
	CreatedAt           string `xml:"created_at"`
	ProviderDisplayName string `xml:"provider_display_name,omitempty"`
	Poll                *Poll  `xml:"poll,omitempty"`
}

type Poll struct {
	GUID     string       `xml:"guid"`
	Question string       `xml:"question"`
	Answers  []PollAnswer `xml:"poll_answer"`
}

type PollAnswer struct {
	GUID   string `xml:"guid"`
	Answer string `xml:"answer"`
}

// Conversation starts a private thread. Its first message is embedded.
type Conversation struct {
	GUID               string                `xml:"guid"`
	Subject            string                `xml:"subject"`
	CreatedAt          string                `xml:"created_at"`
	Messages           []ConversationMessage `xml:"message"`
	DiasporaHandle     string                `xml:"diaspora_handle"`
	ParticipantHandles string                `xml:"participant_handles"`
}

// ConversationMessage is a reply in a private thread. It travels alone as
// a PrivateMessageReply or embedded in a Conversation.
type ConversationMessage struct {
	GUID                  string `xml:"guid"`
	ParentGUID            string `xml:"parent_guid"`
	ParentAuthorSignature string `xml:"parent_author_signature"`
	AuthorSignature       string `xml:"author_signature"`
	Text                  string `xml:"text"`
	CreatedAt             string `xml:"created_at"`
	DiasporaHandle        string `xml:"diaspora_handle"`
	ConversationGUID      string `xml:"conversation_guid"`
}

type Comment struct {
	GUID                  string `xml:"guid"`
	ParentGUID            string `xml:"parent_guid"`
	ParentAuthorSignature string `xml:"parent_author_signature"`
	AuthorSignature       string `xml:"author_signature"`
	Text                  string `xml:"text"`
	DiasporaHandle        string `xml:"diaspora_handle"`
}

type Reshare struct {
	RootDiasporaID      string `xml:"root_diaspora_id"`
	RootGUID            string `xml:"root_guid"`
	GUID                string `xml:"guid"`
	DiasporaHandle      string `xml:"diaspora_handle"`
	Public              bool   `xml:"public"`
	CreatedAt           string `xml:"created_at"`
	ProviderDisplayName string `xml:"provider_display_name,omitempty"`
}

type Photo struct {
	GUID              string `xml:"guid"`
	DiasporaHandle    string `xml:"diaspora_handle"`
	Public            bool   `xml:"public"`
	CreatedAt         string `xml:"created_at"`
	RemotePhotoPath   string `xml:"remote_photo_path"`
	RemotePhotoName   string `xml:"remote_photo_name"`
	Text              string `xml:"text,omitempty"`
	StatusMessageGUID string `xml:"status_message_guid"`
	Height            int    `xml:"height,omitempty"`
	Width             int    `xml:"width,omitempty"`
}

// URL is the absolute address of the image.
func (p *Photo) URL() string {
	return p.RemotePhotoPath + p.RemotePhotoName
}

type PollParticipation struct {
	GUID                  string `xml:"guid"`
	ParentGUID            string `xml:"parent_guid"`
	ParentAuthorSignature string `xml:"parent_author_signature"`
	AuthorSignature       string `xml:"author_signature"`
	DiasporaHandle        string `xml:"diaspora_handle"`
	PollAnswerGUID        string `xml:"poll_answer_guid"`
}

type AccountDeletion struct {
	DiasporaHandle string `xml:"diaspora_handle"`
}

type Like struct {
	Positive              bool   `xml:"positive"`
	GUID                  string `xml:"guid"`
	TargetType            string `xml:"target_type"`
	ParentGUID            string `xml:"parent_guid"`
	ParentAuthorSignature string `xml:"parent_author_signature"`
	AuthorSignature       string `xml:"author_signature"`
	DiasporaHandle        string `xml:"diaspora_handle"`
}

type Participation struct {
	GUID                  string `xml:"guid"`
	TargetType            string `xml:"target_type"`
	ParentGUID            string `xml:"parent_guid"`
	ParentAuthorSignature string `xml:"parent_author_signature"`
	AuthorSignature       string `xml:"author_signature"`
	DiasporaHandle        string `xml:"diaspora_handle"`
}
