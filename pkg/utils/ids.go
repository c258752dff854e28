package utils

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
)

func GenerateUUID7() string {
	u, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return u.String()
}

// DeterminePublishCount decides how many times a confirmation is delivered:
// once 70% of the time, twice 20%, three times 10%.
func DeterminePublishCount() int {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	chance := r.Intn(100)

	if chance < 70 {
		return 1
	} else if chance < 90 {
		return 2
	} else {
		return 3
	}
}
