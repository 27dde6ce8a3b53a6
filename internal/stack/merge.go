// File: internal/stack/merge.go
// Brief: Inheritance and merge rules.

package stack

import "maps"

// mergeInherited applies the inheritable keys of src over dst. Scalars are
// replaced when set, stack_tags are merged and dependencies accumulate.
func mergeInherited(dst *fileConfig, src *fileConfig) {
	if src == nil {
		return
	}
	if src.ProjectCode != "" {
		dst.ProjectCode = src.ProjectCode
	}
	if src.Region != "" {
		dst.Region = src.Region
	}
	if src.Profile != "" {
		dst.Profile = src.Profile
	}
	if src.IAMRole != "" {
		dst.IAMRole = src.IAMRole
	}
	if src.TemplateBucketName != "" {
		dst.TemplateBucketName = src.TemplateBucketName
	}
	if src.StackTags != nil {
		if dst.StackTags == nil {
			dst.StackTags = map[string]string{}
		}
		maps.Copy(dst.StackTags, src.StackTags)
	}
	if len(src.Dependencies) > 0 {
		dst.Dependencies = append(dst.Dependencies, src.Dependencies...)
	}
}

func mergeStackFile(dst *fileConfig, src *fileConfig) {
	mergeInherited(dst, src)
	dst.TemplatePath = src.TemplatePath
	dst.StackName = src.StackName
	dst.Parameters = src.Parameters
	dst.UserData = src.UserData
	dst.Protected = src.Protected
	dst.Timeout = src.Timeout
}

// applyOverrides applies command-line connection overrides to a stack target.
func applyOverrides(s *Stack, o RunOptions) {
	if o.Profile != "" {
		s.Target.Profile = o.Profile
	}
	if o.Region != "" {
		s.Target.Region = o.Region
	}
	if o.IAMRole != "" {
		s.Target.IAMRole = o.IAMRole
	}
}
