package nodes

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateNodeConfig checks a node configuration against its kind's
// schema. Kinds that declare no schema accept any config.
func ValidateNodeConfig(meta *Metadata, config map[string]any) error {
	if len(meta.ConfigSchema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(meta.ConfigSchema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("%s: schema check: %w", meta.Kind, err)
	}
	if result.Valid() {
		return nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, issue := range result.Errors() {
		issues = append(issues, issue.String())
	}
	return fmt.Errorf("%s config invalid: %s", meta.Kind, strings.Join(issues, "; "))
}

// ValidateAllConfigs checks one configuration per kind against the
// registry. The first failure stops the walk.
func ValidateAllConfigs(registry *Registry, configs map[string]map[string]any) error {
	for kind, config := range configs {
		builder, ok := registry.Get(kind)
		if !ok {
			return fmt.Errorf("no builder registered for kind %q", kind)
		}
		meta := builder.Metadata()
		if err := ValidateNodeConfig(&meta, config); err != nil {
			return err
		}
	}
	return nil
}
