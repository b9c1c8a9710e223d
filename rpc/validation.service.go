package rpc

import "strings"

// ValidationService screens route parameters before they reach the engine.
type ValidationService struct {
	providers map[string]struct{}
}

func NewValidationService(providers []string) *ValidationService {
	set := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		set[strings.ToLower(p)] = struct{}{}
	}
	return &ValidationService{providers: set}
}

// IsSupportedProvider matches case-insensitively, consistent with the
// lowercased book routing keys.
func (s *ValidationService) IsSupportedProvider(provider string) bool {
	_, ok := s.providers[strings.ToLower(provider)]
	return ok
}
