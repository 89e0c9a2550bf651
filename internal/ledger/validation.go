package ledger

import (
	"fmt"

	"disot/internal/errors"
)

// ValidateRequest checks a create request before anything is stored or signed.
func ValidateRequest(req CreateRequest) error {
	if (req.Content == nil) == (req.Hash == nil) {
		return errors.ValidationError("exactly one of content or hash is required", nil)
	}
	if !req.Type.Valid() {
		return errors.ValidationError(fmt.Sprintf("invalid entry type %q", req.Type), nil)
	}
	if req.PrivateKey == "" {
		return errors.ValidationError("private key is required", nil)
	}
	if req.Hash != nil {
		if err := req.Hash.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func ValidateFilter(f Filter) error {
	if f.Type != "" && !f.Type.Valid() {
		return errors.ValidationError(fmt.Sprintf("invalid entry type %q", f.Type), nil)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return errors.ValidationError("end time cannot be before start time", nil)
	}
	return nil
}

func ValidateMetadataContent(mc MetadataContent) error {
	for i, ref := range mc.References {
		if err := ref.Hash.Validate(); err != nil {
			return errors.ValidationError(fmt.Sprintf("reference %d: invalid hash", i), err.Error())
		}
		if ref.Relationship == "" {
			return errors.ValidationError(fmt.Sprintf("reference %d: relationship is required", i), nil)
		}
	}
	for i, a := range mc.Authors {
		if a.EntryID == "" {
			return errors.ValidationError(fmt.Sprintf("author %d: entry id is required", i), nil)
		}
	}
	if mc.Version != nil && mc.Version.Version == "" {
		return errors.ValidationError("version is required when version info is set", nil)
	}
	return nil
}
