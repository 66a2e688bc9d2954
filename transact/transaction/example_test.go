package transaction_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-transact/transact/transaction"
)

func ExampleClient_Finish() {
	ctx := context.Background()
	store := transaction.NewMemoryStore()

	client, err := transaction.New(ctx, transaction.Config{Store: store}, transaction.WithID("import-42"))
	if err != nil {
		fmt.Println(err)
		return
	}

	_ = client.Start(ctx)
	_ = client.Finish(ctx,
		transaction.WithFinishStatus(transaction.StatusError),
		transaction.WithData(map[string]any{"code": 500}),
	)

	stored, _ := store.Get(ctx, "import-42")

	fmt.Println(client.Status())
	fmt.Println(string(stored))

	// Output:
	// error
	// {"code":500,"status":"error"}
}

func ExampleError() {
	ctx := context.Background()

	client, _ := transaction.New(ctx, transaction.Config{Store: transaction.NewMemoryStore()}, transaction.WithID("job"))

	err := client.UpdateStatus(ctx, "paused")

	var txErr *transaction.Error
	fmt.Println(errors.As(err, &txErr), txErr.Code, errors.Is(err, transaction.ErrInvalidStatus))

	// Output:
	// true invalid_status true
}
