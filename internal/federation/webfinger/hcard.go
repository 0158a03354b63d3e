package webfinger

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HCard is the public profile summary served at /hcard/{guid}.
type HCard struct {
	FullName    string
	GivenName   string
	FamilyName  string
	Nickname    string
	URL         string
	Searchable  bool
	PhotoLarge  string
	PhotoMedium string
	PhotoSmall  string
}

// RenderHCard writes the hCard fragment.
func RenderHCard(w io.Writer, c HCard) error {
	searchable := "false"
	if c.Searchable {
		searchable = "true"
	}

	inner := el(atom.Div, attrs("id", "content_inner", "class", "entity_profile vcard author"),
		el(atom.H2, nil, text("User profile")),
		field("entity_nickname", "Nickname", span("nickname", c.Nickname)),
		field("entity_full_name", "Full name", span("fn", c.FullName)),
		field("entity_given_name", "First name", span("given_name", c.GivenName)),
		field("entity_family_name", "Family name", span("family_name", c.FamilyName)),
		field("entity_searchable", "Searchable", span("searchable", searchable)),
		field("entity_url", "URL", el(atom.A, attrs("id", "pod_location", "class", "url", "rel", "me", "href", c.URL), text(c.URL))),
		field("entity_photo", "Photo", img(c.PhotoLarge, "300")),
		field("entity_photo_medium", "Photo", img(c.PhotoMedium, "100")),
		field("entity_photo_small", "Photo", img(c.PhotoSmall, "50")),
	)
	root := el(atom.Div, attrs("id", "content"), el(atom.H1, nil, text(c.FullName)), inner)

	return html.Render(w, root)
}

// ParseHCard reads an hCard page. Unknown markup is ignored.
func ParseHCard(r io.Reader) (*HCard, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	c := &HCard{}
	var walk func(n *html.Node, section string)
	walk = func(n *html.Node, section string) {
		if n.Type == html.ElementNode {
			classes := strings.Fields(attr(n, "class"))
			if n.DataAtom == atom.Dl && len(classes) > 0 {
				section = classes[0]
			}
			for _, cl := range classes {
				switch cl {
				case "fn":
					c.FullName = textOf(n)
				case "given_name":
					c.GivenName = textOf(n)
				case "family_name":
					c.FamilyName = textOf(n)
				case "nickname":
					c.Nickname = textOf(n)
				case "searchable":
					c.Searchable = textOf(n) == "true"
				}
			}
			if n.DataAtom == atom.A && (attr(n, "id") == "pod_location" || hasClass(classes, "url")) {
				c.URL = attr(n, "href")
			}
			if n.DataAtom == atom.Img {
				switch section {
				case "entity_photo":
					c.PhotoLarge = attr(n, "src")
				case "entity_photo_medium":
					c.PhotoMedium = attr(n, "src")
				case "entity_photo_small":
					c.PhotoSmall = attr(n, "src")
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch, section)
		}
	}
	walk(doc, "")

	return c, nil
}

// Photo returns the largest photo URL available.
func (c *HCard) Photo() string {
	for _, p := range []string{c.PhotoLarge, c.PhotoMedium, c.PhotoSmall} {
		if p != "" {
			return p
		}
	}
	return ""
}

func el(a atom.Atom, at []html.Attribute, children ...*html.Node) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: at}
	for _, ch := range children {
		n.AppendChild(ch)
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func attrs(kv ...string) []html.Attribute {
	out := make([]html.Attribute, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, html.Attribute{Key: kv[i], Val: kv[i+1]})
	}
	return out
}

func field(class, label string, value *html.Node) *html.Node {
	return el(atom.Dl, attrs("class", class),
		el(atom.Dt, nil, text(label)),
		el(atom.Dd, nil, value),
	)
}

func span(class, value string) *html.Node {
	return el(atom.Span, attrs("class", class), text(value))
}

func img(src, size string) *html.Node {
	return el(atom.Img, attrs("class", "photo avatar", "width", size, "height", size, "src", src))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(classes []string, want string) bool {
	for _, c := range classes {
		if c == want {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b bytes.Buffer
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			collect(ch)
		}
	}
	collect(n)
	return strings.TrimSpace(b.String())
}
