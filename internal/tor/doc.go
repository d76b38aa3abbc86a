// Package tor drives a local Tor daemon to rotate the externally visible
// IP address of a client.
//
// A Session owns exactly one Tor process, one authenticated control
// channel and one private working directory. RenewIP asks Tor for new
// circuits (SIGNAL NEWNYM) and polls an IP-echo service until the observed
// address changes, giving up after a bounded number of attempts.
//
// Typical use:
//
//	s, err := tor.NewSession(ctx, 9050, 9051)
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
//	if err := s.Launch(ctx, "{us},{de}"); err != nil {
//		return err
//	}
//	ip, err := s.RenewIP(ctx)
//
// Both the control channel and the daemon come from tornago. Process launch
// goes through the Launcher interface; DaemonLauncher hands the generated
// configuration to tornago and waits for full bootstrap.
package tor
