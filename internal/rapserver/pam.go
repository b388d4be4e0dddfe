package rapserver

import (
	"os"

	"github.com/msteinert/pam"
	"github.com/pkg/errors"
)

// pamAuthenticate drives the PAM conversation for (user, password, rhost)
// and, on success, clears and replaces the process environment with PAM's
// and returns the PAM-canonicalized username.
//
// A failure after OpenSession has run closes the PAM session again
// before returning the error; credentials established by SetCred are
// not deleted.
func pamAuthenticate(service, user, password, rhost string) (canonicalUser string, err error) {
	conv := func(style pam.Style, msg string) (string, error) {
		if style == pam.PromptEchoOff {
			return password, nil
		}
		return "", errors.Errorf("rapserver: unexpected pam prompt style %d: %s", style, msg)
	}

	tx, err := pam.StartFunc(service, user, conv)
	if err != nil {
		return "", errors.Wrap(err, "rapserver: pam start")
	}

	if err := tx.SetItem(pam.Rhost, rhost); err != nil {
		return "", errors.Wrap(err, "rapserver: pam set rhost")
	}
	if err := tx.SetItem(pam.Ruser, user); err != nil {
		return "", errors.Wrap(err, "rapserver: pam set ruser")
	}
	if err := tx.Authenticate(pam.Silent | pam.DisallowNullAuthtok); err != nil {
		return "", errors.Wrap(err, "rapserver: pam authenticate")
	}
	if err := tx.AcctMgmt(pam.Silent | pam.DisallowNullAuthtok); err != nil {
		return "", errors.Wrap(err, "rapserver: pam acct mgmt")
	}
	if err := tx.SetCred(pam.Establish); err != nil {
		return "", errors.Wrap(err, "rapserver: pam set cred")
	}
	if err := tx.OpenSession(pam.Silent); err != nil {
		return "", errors.Wrap(err, "rapserver: pam open session")
	}

	canonicalUser, err = tx.GetItem(pam.User)
	if err == nil && canonicalUser == "" {
		err = errors.New("empty user")
	}
	if err != nil {
		_ = tx.CloseSession(0)
		return "", errors.Wrap(err, "rapserver: pam get user")
	}

	env, err := tx.GetEnvList()
	if err != nil {
		_ = tx.CloseSession(0)
		return "", errors.Wrap(err, "rapserver: pam get envlist")
	}

	os.Clearenv()
	for k, v := range env {
		os.Setenv(k, v)
	}

	return canonicalUser, nil
}
