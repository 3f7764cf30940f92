package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/EPX-PANCA/zenmius/internal/gitsync"
	"github.com/EPX-PANCA/zenmius/internal/records"
	"github.com/EPX-PANCA/zenmius/internal/vault"
)

func main() {
	// ---- add ----
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	addData := addCmd.String("data", "./data", "data directory")
	addHost := addCmd.String("host", "", "host id")
	addUser := addCmd.String("user", "", "username")
	addPass := addCmd.String("pass", "", "password or gen:N to generate N chars")

	// ---- get ----
	getCmd := flag.NewFlagSet("get", flag.ExitOnError)
	getData := getCmd.String("data", "./data", "data directory")
	getHost := getCmd.String("host", "", "host id")

	// ---- list ----
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	listData := listCmd.String("data", "./data", "data directory")

	// ---- setpass ----
	setCmd := flag.NewFlagSet("setpass", flag.ExitOnError)
	setData := setCmd.String("data", "./data", "data directory")
	setHost := setCmd.String("host", "", "host id")
	setPass := setCmd.String("pass", "", "new password or gen:N")

	// ---- delete ----
	delCmd := flag.NewFlagSet("delete", flag.ExitOnError)
	delData := delCmd.String("data", "./data", "data directory")
	delHost := delCmd.String("host", "", "host id")

	// ---- secret ----
	secCmd := flag.NewFlagSet("secret", flag.ExitOnError)
	secData := secCmd.String("data", "./data", "data directory")
	secName := secCmd.String("name", "", "secret name")
	secKind := secCmd.String("kind", "token", "secret kind")
	secValue := secCmd.String("value", "", "secret value or gen:N")
	secDelete := secCmd.Bool("rm", false, "delete instead of save")

	// ---- changepass ----
	chCmd := flag.NewFlagSet("changepass", flag.ExitOnError)
	chData := chCmd.String("data", "./data", "data directory")

	// ---- sync ----
	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	syncData := syncCmd.String("data", "./data", "data directory")
	syncMode := syncCmd.String("mode", "merge", "push | pull | merge")
	syncURL := syncCmd.String("url", "", "remote repository URL")
	syncUser := syncCmd.String("user", "", "remote username")
	syncToken := syncCmd.String("token", "", "remote access token")
	syncMongo := syncCmd.String("mongo", "", "MongoDB URI (optional, sqlite otherwise)")
	syncDB := syncCmd.String("db", "zenmius", "Mongo database name")

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "add":
		_ = addCmd.Parse(os.Args[2:])
		dieIf(cmdAdd(*addData, *addHost, *addUser, *addPass))
	case "get":
		_ = getCmd.Parse(os.Args[2:])
		dieIf(cmdGet(*getData, *getHost))
	case "list":
		_ = listCmd.Parse(os.Args[2:])
		dieIf(cmdList(*listData))
	case "setpass":
		_ = setCmd.Parse(os.Args[2:])
		dieIf(cmdSetPass(*setData, *setHost, *setPass))
	case "delete":
		_ = delCmd.Parse(os.Args[2:])
		dieIf(cmdDelete(*delData, *delHost))
	case "secret":
		_ = secCmd.Parse(os.Args[2:])
		dieIf(cmdSecret(*secData, *secName, *secKind, *secValue, *secDelete))
	case "changepass":
		_ = chCmd.Parse(os.Args[2:])
		dieIf(cmdChangePass(*chData))
	case "sync":
		_ = syncCmd.Parse(os.Args[2:])
		dieIf(cmdSync(*syncData, *syncMode, *syncURL, *syncUser, *syncToken, *syncMongo, *syncDB))
	default:
		usage()
	}
}

func usage() {
	fmt.Print(`zenmiusctl commands:

  add        --data dir --host web-1 --user alice --pass gen:20
  get        --data dir --host web-1
  list       --data dir
  setpass    --data dir --host web-1 --pass gen:24
  delete     --data dir --host web-1
  secret     --data dir --name api --kind token --value gen:32 [--rm]
  changepass --data dir
  sync       --data dir --mode merge --url https://github.com/you/dotvault.git --user you --token ghp_x

Examples:
  zenmiusctl add --data ./data --host example.com --user ahmad --pass gen:16
  zenmiusctl sync --data ./data --mode push --url https://github.com/you/dotvault.git --token ghp_x
`)
}

func openVault(dataDir string) (*vault.Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	v := vault.New(filepath.Join(dataDir, "vault.enc"), filepath.Join(dataDir, "vault.meta"))
	master, err := promptSecret("Master password: ")
	if err != nil {
		return nil, err
	}
	defer zero(master)
	if err := v.Unlock(master); err != nil {
		return nil, err
	}
	return v, nil
}

func cmdAdd(dataDir, host, user, pass string) error {
	if host == "" || user == "" || pass == "" {
		return errors.New("host/user/pass required")
	}
	v, err := openVault(dataDir)
	if err != nil {
		return err
	}
	defer v.Lock()

	pass = maybeGenerate(pass)
	if err := v.SaveCredential(host, vault.Credential{Username: user, Password: pass}); err != nil {
		return err
	}
	fmt.Println("Saved credential for host:", host)
	return nil
}

func cmdGet(dataDir, host string) error {
	if host == "" {
		return errors.New("--host required")
	}
	v, err := openVault(dataDir)
	if err != nil {
		return err
	}
	defer v.Lock()

	c, err := v.GetCredential(host)
	if err != nil {
		return err
	}
	b, _ := json.MarshalIndent(c, "", "  ")
	fmt.Println(string(b))
	return nil
}

func cmdList(dataDir string) error {
	v, err := openVault(dataDir)
	if err != nil {
		return err
	}
	defer v.Lock()

	ids, err := v.HostIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	secs, err := v.Secrets()
	if err != nil {
		return err
	}
	for _, s := range secs {
		fmt.Printf("secret %s (%s)\n", s.Name, s.Kind)
	}
	return nil
}

// Replace the password of an existing credential, keeping the username.
func cmdSetPass(dataDir, host, pass string) error {
	if host == "" {
		return errors.New("--host required")
	}
	if pass == "" {
		return errors.New("--pass required (or gen:N)")
	}
	v, err := openVault(dataDir)
	if err != nil {
		return err
	}
	defer v.Lock()

	curr, err := v.GetCredential(host)
	if err != nil {
		return err
	}
	curr.Password = maybeGenerate(pass)
	if err := v.SaveCredential(host, curr); err != nil {
		return err
	}
	fmt.Println("Password updated for host:", host)
	return nil
}

func cmdDelete(dataDir, host string) error {
	if host == "" {
		return errors.New("--host required")
	}
	v, err := openVault(dataDir)
	if err != nil {
		return err
	}
	defer v.Lock()

	if err := v.DeleteCredential(host); err != nil {
		return err
	}
	fmt.Println("Deleted credential for host:", host)
	return nil
}

func cmdSecret(dataDir, name, kind, value string, remove bool) error {
	if name == "" {
		return errors.New("--name required")
	}
	v, err := openVault(dataDir)
	if err != nil {
		return err
	}
	defer v.Lock()

	if remove {
		if err := v.DeleteSecret(name); err != nil {
			return err
		}
		fmt.Println("Deleted secret:", name)
		return nil
	}
	if value == "" {
		return errors.New("--value required (or gen:N)")
	}
	if err := v.SaveSecret(vault.Secret{Name: name, Kind: kind, Value: maybeGenerate(value)}); err != nil {
		return err
	}
	fmt.Println("Saved secret:", name)
	return nil
}

func cmdChangePass(dataDir string) error {
	v, err := openVault(dataDir)
	if err != nil {
		return err
	}
	defer v.Lock()

	oldPw, err := promptSecret("Current password: ")
	if err != nil {
		return err
	}
	defer zero(oldPw)
	newPw, err := promptSecret("New password: ")
	if err != nil {
		return err
	}
	defer zero(newPw)

	if err := v.ChangePassword(oldPw, newPw); err != nil {
		return err
	}
	fmt.Println("Password changed.")
	return nil
}

func cmdSync(dataDir, mode, url, user, token, mongoURI, mongoDB string) error {
	m, err := gitsync.ParseMode(mode)
	if err != nil {
		return err
	}
	v, err := openVault(dataDir)
	if err != nil {
		return err
	}
	defer v.Lock()

	var store records.Store
	if mongoURI == "" {
		ss, err := records.NewSQLiteStore(filepath.Join(dataDir, "records.db"))
		if err != nil {
			return err
		}
		defer ss.Close()
		store = ss
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		ms, err := records.NewMongoStore(ctx, mongoURI, mongoDB)
		cancel()
		if err != nil {
			return err
		}
		defer ms.Close(context.Background())
		store = ms
	}

	engine := gitsync.New(gitsync.Config{
		Dir:      filepath.Join(dataDir, "sync"),
		Vault:    v,
		Records:  store,
		SaltPath: filepath.Join(dataDir, "vault.meta"),
	})
	rc := gitsync.RemoteConfig{URL: url, Username: user, Token: token}
	if err := engine.Sync(context.Background(), m, rc); err != nil {
		return err
	}
	fmt.Println("Sync finished:", engine.State())
	return nil
}

// ---- utilities ----

func promptSecret(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	br := bufio.NewReader(os.Stdin)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line, nil
}

func maybeGenerate(pass string) string {
	if !strings.HasPrefix(pass, "gen:") {
		return pass
	}
	var n int
	_, _ = fmt.Sscanf(pass, "gen:%d", &n)
	if n <= 0 {
		n = 20
	}
	return genPassword(n)
}

func genPassword(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_=+[]{}"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		for i := range buf {
			buf[i] = alphabet[i%len(alphabet)]
		}
	}
	for i := range buf {
		buf[i] = alphabet[int(buf[i])%len(alphabet)]
	}
	return string(buf)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func dieIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
