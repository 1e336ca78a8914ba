package ports

import "context"

// PermissionGate answers authorization and entitlement questions before an
// execution or schedule mutation proceeds. A false answer surfaces as a
// PermissionDenied or LicenseRequired error kind, never a generic failure.
type PermissionGate interface {
	CanExecute(ctx context.Context, workflowID, userID string) (bool, error)
	IsFeatureEntitled(ctx context.Context, feature string) (bool, error)
}

// AllowAllGate permits everything. It is the default when no gate is wired.
type AllowAllGate struct{}

func (AllowAllGate) CanExecute(ctx context.Context, workflowID, userID string) (bool, error) {
	return true, nil
}

func (AllowAllGate) IsFeatureEntitled(ctx context.Context, feature string) (bool, error) {
	return true, nil
}
