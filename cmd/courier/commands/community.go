package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"courier/internal/domain"
)

func createCommunityCmd() *cobra.Command {
	var private bool
	var token string
	cmd := &cobra.Command{
		Use:   "create-community <name>",
		Short: "Create a community and join it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			visibility := domain.VisibilityPublic
			if private {
				visibility = domain.VisibilityPrivate
			}
			connect(cmd)
			c, err := wire.Feed.CreateCommunity(cmd.Context(), args[0], visibility, token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s)\n", c.ID, c.Visibility)
			return nil
		},
	}
	cmd.Flags().BoolVar(&private, "private", false, "token-gated community")
	cmd.Flags().StringVar(&token, "token", "", "gating token for a private community")
	return cmd
}

func communitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "communities",
		Short: "List cached communities, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := wire.Feed.Communities(cmd.Context())
			if err != nil {
				return err
			}
			for _, c := range cs {
				member := " "
				if c.IsMember {
					member = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s  %-24s %s\n", member, c.ID, c.Name, c.Visibility)
			}
			return nil
		},
	}
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <community>",
		Short: "Join a cached community",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connect(cmd)
			err := wire.Feed.JoinCommunity(cmd.Context(), domain.CommunityID(args[0]))
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("community %s is not cached", args[0])
			}
			return err
		},
	}
}

func leaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <community>",
		Short: "Leave a community; cached posts are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.Feed.LeaveCommunity(cmd.Context(), domain.CommunityID(args[0]))
		},
	}
}

func postsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "posts <community>",
		Short: "List cached posts of a community, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := wire.Feed.Posts(cmd.Context(), domain.CommunityID(args[0]))
			if err != nil {
				return err
			}
			for _, p := range ps {
				if p.Moderation == domain.ModerationHidden {
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s %s: %s  (likes %d, reposts %d)%s\n",
					time.UnixMilli(p.Timestamp).Format(time.DateTime), p.ID, p.Author.Short(), p.Content,
					p.LikeCount, p.RepostCount, queued(p.Pending))
			}
			return nil
		},
	}
}

func postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <community> <text>",
		Short: "Publish a signed post",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			connect(cmd)
			p, err := wire.Feed.PublishPost(cmd.Context(), domain.CommunityID(args[0]), args[1])
			if errors.Is(err, domain.ErrNotConnected) {
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s; it will be sent when connected\n", p.ID)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Posted %s\n", p.ID)
			return nil
		},
	}
}

func engagementCmd(use, short string, toggle func(*cobra.Command, domain.PostID) (domain.Engagement, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <post>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := toggle(cmd, domain.PostID(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "likes %d (you: %t), reposts %d (you: %t)\n",
				e.LikeCount, e.Liked, e.RepostCount, e.Reposted)
			return nil
		},
	}
}

func likeCmd() *cobra.Command {
	return engagementCmd("like", "Toggle your like on a post", func(cmd *cobra.Command, id domain.PostID) (domain.Engagement, error) {
		return wire.Feed.Like(cmd.Context(), id)
	})
}

func repostCmd() *cobra.Command {
	return engagementCmd("repost", "Toggle your repost of a post", func(cmd *cobra.Command, id domain.PostID) (domain.Engagement, error) {
		return wire.Feed.Repost(cmd.Context(), id)
	})
}

func moderateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "moderate <post> hide|flag|delete",
		Short:     "Moderate a post in a community you created",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"hide", "flag", "delete"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.Feed.Moderate(cmd.Context(), domain.PostID(args[0]), domain.ModerationAction(args[1]))
		},
	}
}
