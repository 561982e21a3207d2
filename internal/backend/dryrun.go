package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"modelops/orchestrator/internal/domain"
)

// DryRunBackend simulates the deployment action table without calling
// any real infrastructure, the default per spec §6's EXECUTE_REAL=false.
// It deterministically fails the first attempt at create_endpoint for
// ml.g5.xlarge with a transient capacity error so MonitorAgent/retry
// logic has something realistic to exercise in tests.
type DryRunBackend struct{}

// NewDryRun constructs a DryRunBackend.
func NewDryRun() *DryRunBackend {
	return &DryRunBackend{}
}

// Execute implements Backend.
func (d *DryRunBackend) Execute(_ context.Context, req Request) (Response, error) {
	switch req.Action {
	case "create_model":
		return Response{Output: map[string]any{
			"model_arn": fmt.Sprintf("arn:dry-run:model/%s", req.Artifact.ModelName),
		}}, nil

	case "create_endpoint_config":
		return Response{Output: map[string]any{
			"endpoint_config_name": req.Artifact.EndpointName + "-config",
		}}, nil

	case "create_endpoint":
		if retry, _ := req.Input["retry_count"].(float64); retry == 0 && req.Artifact.InstanceType == "ml.g5.xlarge" {
			return Response{}, &ClassifiedError{
				Kind: domain.ErrorTransient,
				Err:  fmt.Errorf("insufficient capacity for %s in region", req.Artifact.InstanceType),
			}
		}
		return Response{Output: map[string]any{
			"endpoint_arn": fmt.Sprintf("arn:dry-run:endpoint/%s", req.Artifact.EndpointName),
			"endpoint_id":  uuid.New().String(),
		}}, nil

	case "configure_monitoring":
		return Response{Output: map[string]any{
			"alarms_configured": req.Artifact.RollbackAlarms,
		}}, nil

	case "delete_endpoint":
		return Response{Output: map[string]any{"deleted": true}}, nil

	case "verify_deployment":
		return Response{Output: map[string]any{
			"status":      "InService",
			"verified_at": time.Now().UTC().Format(time.RFC3339),
		}}, nil

	default:
		return Response{}, &ClassifiedError{
			Kind: domain.ErrorUnrecoverable,
			Err:  fmt.Errorf("dry-run backend has no simulation for action %q", req.Action),
		}
	}
}
