// Package transact wires lib-transact from the environment.
//
// The transaction package holds the client itself; this package picks a
// store and a notifier backend from EnvConfig, builds the logger and
// metrics, and registers the result as the process default:
//
//	transact.InitLocalEnvConfig()
//
//	cfg, err := transact.LoadEnvConfig()
//	if err != nil {
//		return err
//	}
//
//	rt, err := transact.Setup(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer rt.Close(ctx)
//
//	tx, err := transaction.NewFromDefault(ctx)
//
// Runtime.Serve exposes the read-only status API from transact/net/http.
package transact
