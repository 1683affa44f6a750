package content

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/rotisserie/eris"
)

// TopicPlaceholder is substituted with the selected topic when a prompt is rendered.
const TopicPlaceholder = "{topic}"

// Topic names the subject of a post.
type Topic string

// StyleTemplate is a phrasing instruction holding exactly one TopicPlaceholder.
type StyleTemplate string

// Prompt is a style template with the topic substituted in.
type Prompt string

// Render substitutes topic into the template.
func (s StyleTemplate) Render(topic Topic) Prompt {
	return Prompt(strings.Replace(string(s), TopicPlaceholder, string(topic), 1))
}

// Catalog holds the topics and style templates a Generator draws from. It is immutable
// once built by NewCatalog.
type Catalog struct {
	topics []Topic
	styles []StyleTemplate
}

type catalogInput struct {
	Topics []string `validate:"required,min=1,dive,notblank"`
	Styles []string `validate:"required,min=1,dive,notblank,topic_placeholder"`
}

var catalogValidator = mustCatalogValidator()

func newCatalogValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, eris.Wrap(err, "registering notblank validation")
	}
	err := v.RegisterValidation("topic_placeholder", func(fl validator.FieldLevel) bool {
		return strings.Count(fl.Field().String(), TopicPlaceholder) == 1
	})
	if err != nil {
		return nil, eris.Wrap(err, "registering topic_placeholder validation")
	}
	return v, nil
}

func mustCatalogValidator() *validator.Validate {
	v, err := newCatalogValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// NewCatalog validates and copies the supplied topics and style templates.
func NewCatalog(topics []string, styles []string) (Catalog, error) {
	input := catalogInput{Topics: topics, Styles: styles}
	if err := catalogValidator.Struct(input); err != nil {
		return Catalog{}, eris.Wrap(err, "invalid content catalog")
	}

	catalog := Catalog{
		topics: make([]Topic, 0, len(topics)),
		styles: make([]StyleTemplate, 0, len(styles)),
	}
	for _, topic := range topics {
		catalog.topics = append(catalog.topics, Topic(strings.TrimSpace(topic)))
	}
	for _, style := range styles {
		catalog.styles = append(catalog.styles, StyleTemplate(strings.TrimSpace(style)))
	}

	return catalog, nil
}

// Topics returns a copy of the catalog topics.
func (c Catalog) Topics() []Topic {
	return append([]Topic(nil), c.topics...)
}

// Styles returns a copy of the catalog style templates.
func (c Catalog) Styles() []StyleTemplate {
	return append([]StyleTemplate(nil), c.styles...)
}

// Empty reports whether the catalog lacks topics or styles.
func (c Catalog) Empty() bool {
	return len(c.topics) == 0 || len(c.styles) == 0
}
