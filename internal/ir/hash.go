package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainPredicate = "ade/predicate/v1"
	DomainGoal      = "ade/goal/v1"
	DomainUpdates   = "ade/updates/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PredicateHash identifies a predicate by its canonical text.
// Two predicates that differ only in name case hash identically.
func PredicateHash(p Predicate) (string, error) {
	obj := IRObject{
		"name":    IRString(FoldName(p.Name)),
		"args":    termsToArray(p.Args),
		"negated": IRBool(p.Negated),
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("PredicateHash: %w", err)
	}
	return hashWithDomain(DomainPredicate, data), nil
}

// GoalHash identifies a goal submission: the goal predicate plus its id.
func GoalHash(goal Predicate, id int64) (string, error) {
	ph, err := PredicateHash(goal)
	if err != nil {
		return "", err
	}
	data, err := MarshalCanonical(IRObject{"predicate": IRString(ph), "id": IRInt(id)})
	if err != nil {
		return "", fmt.Errorf("GoalHash: %w", err)
	}
	return hashWithDomain(DomainGoal, data), nil
}

// UpdatesHash summarizes an ordered list of effect predicates.
func UpdatesHash(updates []Predicate) (string, error) {
	arr := make(IRArray, len(updates))
	for i, u := range updates {
		arr[i] = IRString(u.String())
	}
	data, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("UpdatesHash: %w", err)
	}
	return hashWithDomain(DomainUpdates, data), nil
}

func termsToArray(terms []Term) IRArray {
	arr := make(IRArray, len(terms))
	for i, t := range terms {
		arr[i] = IRString(t.String())
	}
	return arr
}
