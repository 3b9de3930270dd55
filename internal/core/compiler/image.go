package compiler

import (
	"fmt"
	"strings"

	"github.com/distribution/reference"

	"github.com/artpar/marathoner/internal/core/topology"
)

// ImageArtifactSuffix marks an artifact reference as a docker image.
const ImageArtifactSuffix = ".dockerimg"

const createField = "interfaces.create"

// resolveImage reads the docker image from the artifact of the node's
// Standard create operation. "registry/image:1.2.dockerimg" yields
// "registry/image:1.2".
func resolveImage(node *topology.Node) (string, error) {
	op, ok := node.Operation(topology.StandardInterface, topology.OperationCreate)
	if !ok {
		return "", newValidationError(node.ID, createField,
			fmt.Sprintf("a %s operation on %s is required", topology.OperationCreate, topology.StandardInterface), nil)
	}

	if op.Artifact == nil || strings.TrimSpace(op.Artifact.Ref) == "" {
		return "", &CompileError{
			NodeID:  node.ID,
			Field:   createField,
			Message: "create operation has no implementation artifact",
			Err:     ErrNotImplemented,
		}
	}

	ref := strings.TrimSpace(op.Artifact.Ref)
	if !strings.HasSuffix(ref, ImageArtifactSuffix) {
		return "", &CompileError{
			NodeID:  node.ID,
			Field:   createField,
			Message: fmt.Sprintf("artifact %q is not a docker image (expected <image>%s)", ref, ImageArtifactSuffix),
			Err:     ErrUnsupported,
		}
	}

	image := strings.TrimSuffix(ref, ImageArtifactSuffix)
	if _, err := reference.ParseNormalizedNamed(image); err != nil {
		return "", &CompileError{
			NodeID:  node.ID,
			Field:   createField,
			Message: fmt.Sprintf("invalid image reference %q", image),
			Err:     ErrUnsupported,
			Cause:   err,
		}
	}

	return image, nil
}
