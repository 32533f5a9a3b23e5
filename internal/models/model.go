// Package models holds the data shapes shared across the registry, worker,
// pool, and admission packages.
package models

// Modality is the kind of content a model produces.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// ImagePolicy is a per-(adapter,model) declaration of image handling.
type ImagePolicy string

const (
	ImagePolicyForbidden ImagePolicy = "forbidden"
	ImagePolicyOptional  ImagePolicy = "optional"
	ImagePolicyRequired  ImagePolicy = "required"
)

// ModelDescriptor is the immutable, registry-owned description of one model
// as served by one adapter type.
type ModelDescriptor struct {
	ID          string // stable public name
	UpstreamID  string // opaque string passed to the adapter
	Modality    Modality
	ImagePolicy ImagePolicy
	AdapterType string
}
