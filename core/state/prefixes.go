package state

var (
	donationDonorPrefix      = []byte("donation/donor/")
	donationRecipientPrefix  = []byte("donation/recipient/")
	donationBatchPrefix      = []byte("donation/batch/")
	donationShareEntryPrefix = []byte("donation/entry/")
	donationCountersKeyBytes = []byte("donation/counters")
	accountPrefix            = []byte("account/")
)
