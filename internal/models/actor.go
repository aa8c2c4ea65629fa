package models

import (
	"fmt"

	"github.com/google/uuid"
)

type ActorKind string

const (
	ActorSystem  ActorKind = "system"
	ActorAIAgent ActorKind = "ai_agent"
	ActorAdmin   ActorKind = "admin"
	ActorUser    ActorKind = "user"
)

// Actor identifies who performed an action. ID is set for admins and users.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   uuid.UUID `json:"id,omitempty"`
}

func SystemActor() Actor                 { return Actor{Kind: ActorSystem} }
func AIAgentActor() Actor                { return Actor{Kind: ActorAIAgent} }
func AdminActor(id uuid.UUID) Actor      { return Actor{Kind: ActorAdmin, ID: id} }
func UserActor(id uuid.UUID) Actor       { return Actor{Kind: ActorUser, ID: id} }
func (a Actor) IsAdmin() bool            { return a.Kind == ActorAdmin }
func (a Actor) IsUser(id uuid.UUID) bool { return a.Kind == ActorUser && a.ID == id }

// Valid reports whether the actor is one of the closed set of kinds.
func (a Actor) Valid() bool {
	switch a.Kind {
	case ActorSystem, ActorAIAgent:
		return true
	case ActorAdmin, ActorUser:
		return a.ID != uuid.Nil
	}
	return false
}

func (a Actor) String() string {
	switch a.Kind {
	case ActorAdmin:
		return fmt.Sprintf("admin:%s", a.ID)
	case ActorUser:
		return a.ID.String()
	default:
		return string(a.Kind)
	}
}
