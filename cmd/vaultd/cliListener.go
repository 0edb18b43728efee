package main

import (
	"fmt"

	"dappvault/engine/actors"
	"dappvault/engine/library"
	"github.com/eiannone/keyboard"
)

// cliListener prints parts of the open vault on single key presses.
func cliListener(a *app) {
	fmt.Println("u: users\nc: contacts\nw: wallets\na: apps\nC: config\nq: quit")
	for {
		r, k, err := keyboard.GetSingleKey()
		if err != nil {
			library.LogCLI(err.Error(), 1)
			return
		}
		if k == keyboard.KeyEnter {
			fmt.Println("\n-----------------------------------")
			continue
		}
		if r == 0 {
			continue
		}
		if r == 'q' {
			close(actors.GetTerminateChan())
			return
		}
		doc, err := a.c.Document()
		if err != nil {
			library.LogCLI(err.Error(), 1)
			continue
		}
		switch r {
		default:
			fmt.Printf("Key %s is not bound to anything\n", string(r))
		case 'u':
			for _, u := range doc.Identities.Users {
				fmt.Printf("%s %s private=%v\n", u.ID, u.Profile.Name, u.PrivateProfile)
			}
		case 'c':
			for _, c := range doc.Identities.Contacts {
				peer, _ := doc.Identities.Peer(c.PeerID)
				name := ""
				if peer != nil {
					name = peer.Profile.Name
				}
				fmt.Printf("%s user=%s peer=%s %s\n", c.ID, c.UserID, name, c.ConnectionState)
			}
		case 'w':
			for id, w := range doc.Wallets.HD {
				fmt.Printf("hd %s %s %v\n", id, w.Name, w.Accounts)
			}
			for id, w := range doc.Wallets.PK {
				fmt.Printf("pk %s %v\n", id, w.Accounts)
			}
			for id, w := range doc.Wallets.Ledger {
				fmt.Printf("ledger %s %s %d accounts\n", id, w.Name, len(w.Accounts))
			}
		case 'a':
			for _, app := range doc.Apps.Own {
				fmt.Printf("own %s %s@%s\n", app.ID, app.Name, app.Version)
			}
			for _, app := range doc.Apps.Installed {
				fmt.Printf("installed %s %s@%s %s\n", app.ID, app.Manifest.Data.Name, app.Manifest.Data.Version, app.InstallationState)
			}
		case 'C':
			for k, v := range a.conf.AllSettings() {
				fmt.Printf("%s: %v\n", k, v)
			}
		}
	}
}
