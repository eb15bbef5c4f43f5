package utils

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mrand "math/rand"
	"strings"

	"github.com/sysu-ecnc-dev/lead-distributor/backend/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var commonFirstNames = []string{
	"James", "Mary", "Robert", "Patricia", "John", "Jennifer", "Michael", "Linda",
	"David", "Elizabeth", "William", "Barbara", "Richard", "Susan", "Joseph", "Jessica",
	"Thomas", "Sarah", "Priya", "Arjun", "Wei", "Mei", "Omar", "Fatima",
}
var commonLastNames = []string{
	"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis",
	"Rodriguez", "Martinez", "Patel", "Singh", "Chen", "Wang", "Khan", "Ali",
}

func GenerateRandomName() string {
	first := commonFirstNames[mrand.Intn(len(commonFirstNames))]
	last := commonLastNames[mrand.Intn(len(commonLastNames))]
	return first + " " + last
}

var digits = "0123456789"

// GenerateEmailFromName lowercases the name, joins it with a dot and appends
// a few digits so repeated names rarely collide.
func GenerateEmailFromName(name string, domainName string) string {
	local := strings.ToLower(strings.Join(strings.Fields(name), "."))

	digitsLength := mrand.Intn(3) + 2
	for i := 0; i < digitsLength; i++ {
		local += string(digits[mrand.Intn(len(digits))])
	}

	return local + "@" + domainName
}

func GenerateRandomMobile() string {
	return fmt.Sprintf("+1555%07d", mrand.Intn(10000000))
}

func GenerateRandomAgent(password string, emailDomainName string) (*domain.User, error) {
	name := GenerateRandomName()
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	return &domain.User{
		Name:         name,
		Email:        GenerateEmailFromName(name, emailDomainName),
		Mobile:       GenerateRandomMobile(),
		PasswordHash: string(passwordHash),
		Role:         domain.RoleAgent,
	}, nil
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*")

// GenerateRandomPassword draws from crypto/rand since the result is a real credential.
func GenerateRandomPassword(length int) string {
	password := make([]rune, length)
	max := big.NewInt(int64(len(letters)))
	for i := range password {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		password[i] = letters[n.Int64()]
	}
	return string(password)
}
