package corpus

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"kb-toolkit/internal/models"
)

// Tags accepts both `tags: faktura` and `tags: [faktura, vat]`.
type Tags []string

func (t *Tags) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			*t = nil
			return nil
		}
		*t = Tags{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*t = list
		return nil
	default:
		return fmt.Errorf("line %d: tags must be a string or a list", node.Line)
	}
}

// Frontmatter holds the fields the toolkit reads from a post header.
type Frontmatter struct {
	Title        string               `yaml:"title"`
	Tags         Tags                 `yaml:"tags"`
	SourceURL    string               `yaml:"source_url"`
	RelatedLinks []models.RelatedLink `yaml:"related_links"`
}

// SplitFrontmatter separates a leading `---` delimited YAML block from the
// markdown body. ok is false when the content has no complete header.
func SplitFrontmatter(content string) (header, body string, ok bool) {
	content = strings.TrimPrefix(content, "\ufeff")
	if !strings.HasPrefix(content, models.FrontmatterSeparator) {
		return "", strings.TrimSpace(content), false
	}
	rest := content[len(models.FrontmatterSeparator):]
	end := strings.Index(rest, "\n"+models.FrontmatterSeparator)
	if end < 0 {
		return "", strings.TrimSpace(content), false
	}
	header = rest[:end]
	body = rest[end+1+len(models.FrontmatterSeparator):]
	// drop the remainder of the closing delimiter line
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && strings.TrimSpace(body[:nl]) == "" {
		body = body[nl+1:]
	}
	return header, strings.TrimSpace(body), true
}

// ParseFrontmatter decodes the header of content. Content without a header
// yields a zero Frontmatter.
func ParseFrontmatter(content string) (Frontmatter, string, error) {
	var fm Frontmatter
	header, body, ok := SplitFrontmatter(content)
	if !ok {
		return fm, body, nil
	}
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return Frontmatter{}, body, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	return fm, body, nil
}

// RenderFrontmatter writes fields as a `---` delimited YAML header.
func RenderFrontmatter(fields any) (string, error) {
	data, err := yaml.Marshal(fields)
	if err != nil {
		return "", err
	}
	return models.FrontmatterSeparator + "\n" + string(data) + models.FrontmatterSeparator + "\n", nil
}

// Field is one key of a frontmatter header.
type Field struct {
	Key   string
	Value any
}

// ExtendFrontmatter appends fields to a YAML header, replacing keys that
// already exist and keeping the order of the others.
func ExtendFrontmatter(header string, fields ...Field) (string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(header), &doc); err != nil {
		return "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	var mapping *yaml.Node
	if len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode {
		mapping = doc.Content[0]
	} else {
		mapping = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	for _, f := range fields {
		var value yaml.Node
		if err := value.Encode(f.Value); err != nil {
			return "", err
		}
		replaced := false
		for i := 0; i+1 < len(mapping.Content); i += 2 {
			if mapping.Content[i].Value == f.Key {
				mapping.Content[i+1] = &value
				replaced = true
				break
			}
		}
		if !replaced {
			key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Key}
			mapping.Content = append(mapping.Content, key, &value)
		}
	}
	return RenderFrontmatter(mapping)
}
