// Package access decides what a dashboard user may do.
package access

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default_policy.yaml
var defaultPolicy []byte

// Role granted to every configured admin.
const AdminRole = "admin"

type Permission struct {
	Resource string   `yaml:"resource"`
	Actions  []string `yaml:"actions"`
}

type Role struct {
	Description string       `yaml:"description"`
	Permissions []Permission `yaml:"permissions"`
}

type RBACPolicy struct {
	DefaultRole string              `yaml:"default_role"`
	Roles       map[string]Role     `yaml:"roles"`
	Users       map[string]struct { // Add user assignments
		Roles []string `yaml:"roles"`
	} `yaml:"users"`
	Inheritance map[string][]string `yaml:"inheritance"`
}

type RBAC struct {
	policy      *RBACPolicy
	userRoles   map[string][]string // userID -> roles
	mu          sync.RWMutex
	policyCache map[string]map[string]bool // userID -> "resource:action" -> allowed
}

func NewRBAC() *RBAC {
	return &RBAC{
		userRoles:   make(map[string][]string),
		policyCache: make(map[string]map[string]bool),
	}
}

// LoadPolicy loads RBAC policy from YAML file. An empty path loads the
// built-in policy.
func (r *RBAC) LoadPolicy(filepath string) error {
	if filepath == "" {
		return r.LoadPolicyBytes(defaultPolicy)
	}
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	return r.LoadPolicyBytes(data)
}

func (r *RBAC) LoadPolicyBytes(data []byte) error {
	var policy RBACPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return fmt.Errorf("failed to parse policy file: %w", err)
	}
	if len(policy.Roles) == 0 {
		return fmt.Errorf("policy defines no roles")
	}

	r.mu.Lock()
	r.policy = &policy
	// Load user role assignments from policy
	r.userRoles = make(map[string][]string)
	for userID, userData := range policy.Users {
		r.userRoles[userID] = userData.Roles
	}
	r.policyCache = make(map[string]map[string]bool) // Clear cache
	r.mu.Unlock()

	slog.Info("RBAC policy loaded", "roles", len(policy.Roles), "users", len(policy.Users))
	return nil
}

// AssignRole assigns one or more roles to a user
func (r *RBAC) AssignRole(userID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.userRoles[userID] = append(r.userRoles[userID], roles...)
	delete(r.policyCache, userID) // Invalidate cache for this user

	slog.Debug("Roles assigned", "userID", userID, "roles", roles)
}

// SetRoles replaces all roles for a user
func (r *RBAC) SetRoles(userID string, roles ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.userRoles[userID] = roles
	delete(r.policyCache, userID) // Invalidate cache for this user

	slog.Debug("Roles set", "userID", userID, "roles", roles)
}

// RemoveRole removes a role from a user
func (r *RBAC) RemoveRole(userID string, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roles := r.userRoles[userID]
	newRoles := make([]string, 0, len(roles))
	for _, r := range roles {
		if r != role {
			newRoles = append(newRoles, r)
		}
	}
	r.userRoles[userID] = newRoles
	delete(r.policyCache, userID) // Invalidate cache

	slog.Debug("Role removed", "userID", userID, "role", role)
}

// GetUserRoles returns all roles for a user (including inherited)
func (r *RBAC) GetUserRoles(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.userRolesLocked(userID)
}

func (r *RBAC) userRolesLocked(userID string) []string {
	if userID == "" {
		if r.policy != nil && r.policy.DefaultRole != "" {
			return []string{r.policy.DefaultRole}
		}
		return []string{}
	}

	directRoles := r.userRoles[userID]

	// If user has no roles and default role is defined, use default role
	if len(directRoles) == 0 && r.policy != nil && r.policy.DefaultRole != "" {
		directRoles = []string{r.policy.DefaultRole}
	}

	allRoles := make(map[string]bool)

	for _, role := range directRoles {
		allRoles[role] = true
		// Add inherited roles
		r.addInheritedRoles(role, allRoles)
	}

	result := make([]string, 0, len(allRoles))
	for role := range allRoles {
		result = append(result, role)
	}
	return result
}

// addInheritedRoles recursively adds inherited roles
func (r *RBAC) addInheritedRoles(role string, roles map[string]bool) {
	if r.policy == nil || r.policy.Inheritance == nil {
		return
	}

	inherited := r.policy.Inheritance[role]
	for _, inheritedRole := range inherited {
		if !roles[inheritedRole] {
			roles[inheritedRole] = true
			r.addInheritedRoles(inheritedRole, roles)
		}
	}
}

// Can checks if a user can perform an action on a resource
func (r *RBAC) Can(userID, resource, action string) bool {
	cacheKey := resource + ":" + action

	r.mu.RLock()
	if r.policy == nil {
		r.mu.RUnlock()
		slog.Warn("RBAC policy not loaded")
		return false
	}
	if allowed, found := r.policyCache[userID][cacheKey]; found {
		r.mu.RUnlock()
		return allowed
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := false
	for _, roleName := range r.userRolesLocked(userID) {
		if r.policy.Roles[roleName].allows(resource, action) {
			allowed = true
			break
		}
	}

	// Cache the result
	if r.policyCache[userID] == nil {
		r.policyCache[userID] = make(map[string]bool)
	}
	r.policyCache[userID][cacheKey] = allowed

	return allowed
}

func (role Role) allows(resource, action string) bool {
	for _, perm := range role.Permissions {
		// Check wildcard resource
		if perm.Resource != "*" && perm.Resource != resource {
			continue
		}
		for _, act := range perm.Actions {
			if act == "*" || act == action {
				return true
			}
		}
	}
	return false
}
