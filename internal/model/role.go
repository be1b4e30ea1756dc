// Package model resolves model bundles and owns the lifecycle of the native
// objects loaded from them.
package model

import (
	"fmt"
	"strings"
)

// Role names a model slot in a bundle
type Role int

const (
	RoleCascade Role = iota + 1
	RoleDetector
	RoleLandmarks
	RoleEncoder
	RoleAge
	RoleGender
	RoleEmotion
	RoleHeadPose
)

// Roles lists every role in canonical order
var Roles = []Role{
	RoleCascade,
	RoleDetector,
	RoleLandmarks,
	RoleEncoder,
	RoleAge,
	RoleGender,
	RoleEmotion,
	RoleHeadPose,
}

var roleNames = map[Role]string{
	RoleCascade:   "cascade",
	RoleDetector:  "detector",
	RoleLandmarks: "landmarks",
	RoleEncoder:   "encoder",
	RoleAge:       "age",
	RoleGender:    "gender",
	RoleEmotion:   "emotion",
	RoleHeadPose:  "headpose",
}

// DefaultFiles is the naming convention mapping roles to files in a bundle directory
var DefaultFiles = map[Role]string{
	RoleCascade:   "facefinder",
	RoleDetector:  "scrfd_10g.onnx",
	RoleLandmarks: "2d106det.onnx",
	RoleEncoder:   "arcface.onnx",
	RoleAge:       "age_googlenet.onnx",
	RoleGender:    "gender_googlenet.onnx",
	RoleEmotion:   "emotion_ferplus.onnx",
	RoleHeadPose:  "headpose.onnx",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Attribute reports whether the role is one of the attribute classifiers
func (r Role) Attribute() bool {
	switch r {
	case RoleAge, RoleGender, RoleEmotion, RoleHeadPose:
		return true
	}
	return false
}

// ParseRole maps a role name back to its Role
func ParseRole(name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown model role %q", name)
}

// ParseRoles parses a comma separated role list
func ParseRoles(list string) ([]Role, error) {
	var roles []Role
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		role, err := ParseRole(part)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// ParseFiles maps role names to bundle file names
func ParseFiles(files map[string]string) (map[Role]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := make(map[Role]string, len(files))
	for name, file := range files {
		role, err := ParseRole(name)
		if err != nil {
			return nil, err
		}
		out[role] = file
	}
	return out, nil
}
