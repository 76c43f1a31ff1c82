package service

import (
	"strings"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

func checkPrincipal(p model.Principal, op string) error {
	if strings.TrimSpace(p.ID) == "" || !p.Role.Valid() {
		return &model.ForbiddenError{PrincipalID: p.ID, Op: op}
	}
	return nil
}

func requireOrganizer(p model.Principal, op string) error {
	if err := checkPrincipal(p, op); err != nil {
		return err
	}
	if !p.IsOrganizer() {
		return &model.ForbiddenError{PrincipalID: p.ID, Op: op}
	}
	return nil
}

// requireSelf lets organizers act for anyone and judges only for themselves.
func requireSelf(p model.Principal, judgeID, op string) error {
	if err := checkPrincipal(p, op); err != nil {
		return err
	}
	if !p.IsOrganizer() && p.ID != judgeID {
		return &model.ForbiddenError{PrincipalID: p.ID, Op: op}
	}
	return nil
}

// scopeJudge narrows a judge's listing to their own records.
func scopeJudge(p model.Principal, judgeID string) string {
	if p.IsOrganizer() {
		return judgeID
	}
	return p.ID
}

func roundKey(eventID string, round int) (model.RoundKey, error) {
	verr := &model.ValidationError{}
	if strings.TrimSpace(eventID) == "" {
		verr.Add("event_id", "is required")
	}
	if round < 1 {
		verr.Add("round", "must be at least 1")
	}
	if err := verr.OrNil(); err != nil {
		return model.RoundKey{}, err
	}
	return model.RoundKey{EventID: eventID, Round: round}, nil
}
