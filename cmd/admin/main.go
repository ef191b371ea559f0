package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	app "github.com/etitcombe/jpconnect"
	"github.com/etitcombe/jpconnect/db"
	"github.com/etitcombe/jpconnect/rand"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"
)

/*
How to generate a users.gob file for the web application.

1. > ./admin --cmd=pepper
CPjaot8hYLXpm4xIaXHWsQKJWkelY3msP6AbR8wYmrE=
2. > ./admin --cmd=password --pepper=CPjaot8hYLXpm4xIaXHWsQKJWkelY3msP6AbR8wYmrE= --password=fancy-password
$2a$10$r1sE9VECMqhjaikC2z5/iOaSwCDGlVOe4PLwDjJzKLT7iY1QDkF3.
3. > ./admin --cmd=userfile --email=user@site.com --hashedPassword='$2a$10$r1sE9VECMqhjaikC2z5/iOaSwCDGlVOe4PLwDjJzKLT7iY1QDkF3.'
[this produces users.gob which can now be copied to the user_dir of the web application]

The options command prints the option blobs of the connection:

> ./admin --cmd=options --db=./database/connect.db
*/

func main() {
	var (
		cmd            string
		pepper         string
		password       string
		email          string
		hashedPassword string
		userID         int
		dir            string
		dsn            string
	)
	pflag.StringVar(&cmd, "cmd", "", "The command to execute: pepper, password, userfile, options. [Required]")
	pflag.StringVar(&pepper, "pepper", "", "The pepper to use when hashing a password. [Required when cmd=password]")
	pflag.StringVar(&password, "password", "", "The password to hash. [Required when cmd=password]")
	pflag.StringVar(&email, "email", "", "The email to use for the user. [Required when cmd=userfile]")
	pflag.StringVar(&hashedPassword, "hashedPassword", "", "The hashed password to use for the user. [Required when cmd=userfile]")
	pflag.IntVar(&userID, "id", 1, "The id of the user. [Used when cmd=userfile]")
	pflag.StringVar(&dir, "dir", ".", "The directory to write users.gob to. [Used when cmd=userfile]")
	pflag.StringVar(&dsn, "db", "./database/connect.db", "The option database. [Used when cmd=options]")
	pflag.Parse()

	switch cmd {
	case "pepper":
		generatePepper()
	case "password":
		if pepper == "" || password == "" {
			pflag.Usage()
			return
		}
		hashPassword(pepper, password)
	case "userfile":
		if email == "" || hashedPassword == "" || userID < 1 {
			pflag.Usage()
			return
		}
		saveUsers(dir, userID, email, hashedPassword)
	case "options":
		dumpOptions(dsn)
	default:
		pflag.Usage()
	}
}

func generatePepper() {
	t, err := rand.RememberToken()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(t)
}

func hashPassword(pepper, password string) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password+pepper), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(hashedBytes))
}

func saveUsers(dir string, id int, email, hashedPassword string) {
	s, err := db.NewUserStoreFile("", dir)
	if err != nil {
		log.Fatal(err)
	}
	users := []app.User{
		{ID: id, Email: email, PasswordHash: hashedPassword},
	}
	if err := s.SaveUsers(users); err != nil {
		log.Fatal(err)
	}
}

func dumpOptions(dsn string) {
	if _, err := os.Stat(dsn); err != nil {
		log.Fatal(err)
	}
	s, err := db.NewOptionStore(dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()
	if err := s.Open(); err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	for _, name := range []string{app.OptionsName, app.PrivateOptionsName} {
		o, err := s.Get(ctx, name)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Print(formatOptions(name, o))
	}
}

// formatOptions renders an option blob with its keys in sorted order.
func formatOptions(name string, o app.Options) string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s:\n", name)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, o[k])
	}
	return b.String()
}
